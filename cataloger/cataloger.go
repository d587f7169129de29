// Package cataloger implements the Site Verifier / Cataloger: once a Bundle
// has been verified at its destination and is sitting in the tape queue, it
// records an archive location on every file the bundle carries so the
// Locator can later find it, then marks the Bundle completed.
//
// This component has no dedicated numbered algorithm in the upstream design
// notes the way Picker/Bundler/Replicator/Verifier do; its steps below are
// inferred from the component table's stated pre/post states (taping ->
// completed, "FC record created") and the shape of the File-Catalog client
// the other components already use.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package cataloger

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

// Component is the Cataloger worker: taping -> completed.
type Component struct {
	DB           *ltadb.Client
	FC           *fcatalog.Client
	Claimant     string
	SourceSite   string
	DestSite     string
	MetadataPage int
}

func New(db *ltadb.Client, fc *fcatalog.Client, claimant, sourceSite, destSite string) *Component {
	return &Component{DB: db, FC: fc, Claimant: claimant, SourceSite: sourceSite, DestSite: destSite, MetadataPage: 1000}
}

func (c *Component) Name() string { return "cataloger" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	b, err := c.DB.PopBundle(ctx, c.SourceSite, c.DestSite, lta.BundleTaping, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("cataloger pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.catalog(ctx, b); err != nil {
		nlog.Errorf("cataloger: quarantining %s: %v", b.UUID, err)
		if qerr := c.DB.QuarantineBundle(ctx, b, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("cataloger: quarantine of %s also failed: %v", b.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// catalog records an archive location (dest site, the bundle's own path,
// archive=true) on every file carried by b, catalogs the archive ZIP itself
// as its own File-Catalog record (§4.7: "the archive is itself catalogued",
// so the Locator can later fetch it by uuid), then marks the Bundle
// verified and completed.
func (c *Component) catalog(ctx context.Context, b *lta.Bundle) error {
	loc := fcatalog.Location{Site: c.DestSite, Path: b.BundlePath, Archive: true}

	recorded := 0
	err := c.DB.AllMetadata(ctx, b.UUID, c.MetadataPage, func(page []lta.Metadata) error {
		for _, m := range page {
			if err := c.FC.AddLocation(ctx, m.FileCatalogUUID, loc); err != nil {
				return errors.Wrapf(err, "add archive location to %s", m.FileCatalogUUID)
			}
			recorded++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if recorded != b.FileCount {
		reason := fmt.Sprintf("cataloged %d of %d files", recorded, b.FileCount)
		return worker.NewWorkError(worker.ErrProtocol, reason, nil)
	}

	archiveRecord := map[string]any{
		"uuid":         b.UUID,
		"logical_name": b.BundlePath,
		"file_size":    b.Size,
		"checksum":     b.Checksum,
		"locations":    []fcatalog.Location{loc},
	}
	if _, err := c.FC.CreateFile(ctx, archiveRecord); err != nil {
		return errors.Wrap(err, "catalog archive bundle")
	}

	return c.DB.PatchBundle(ctx, b.UUID, map[string]any{
		"status":   lta.BundleCompleted,
		"verified": true,
	})
}
