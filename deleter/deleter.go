// Package deleter removes a completed Bundle's source-site files once every
// one of them is confirmed archived at the destination (§4.6).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package deleter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

// Component is the Deleter worker: completed -> deleted.
type Component struct {
	DB              *ltadb.Client
	FC              *fcatalog.Client
	Claimant        string
	SourceSite      string
	DestSite        string
	WarehouseRoot   string
	MetadataPage    int
	StaleClaimAfter time.Duration
}

func New(db *ltadb.Client, fc *fcatalog.Client, claimant, sourceSite, destSite, warehouseRoot string, staleClaimAfter time.Duration) *Component {
	return &Component{
		DB: db, FC: fc, Claimant: claimant,
		SourceSite: sourceSite, DestSite: destSite,
		WarehouseRoot: warehouseRoot, MetadataPage: 1000,
		StaleClaimAfter: staleClaimAfter,
	}
}

func (c *Component) Name() string { return "deleter" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	b, err := c.DB.PopBundle(ctx, c.SourceSite, c.DestSite, lta.BundleCompleted, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("deleter pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.delete(ctx, b); err != nil {
		nlog.Errorf("deleter: quarantining %s: %v", b.UUID, err)
		if qerr := c.DB.QuarantineBundle(ctx, b, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("deleter: quarantine of %s also failed: %v", b.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// delete implements §4.6: confirm every constituent file is safely archived
// before removing anything, then remove each physical file.
func (c *Component) delete(ctx context.Context, b *lta.Bundle) error {
	var logicalNames []string
	err := c.DB.AllMetadata(ctx, b.UUID, c.MetadataPage, func(page []lta.Metadata) error {
		for _, m := range page {
			rec, err := c.FC.GetFile(ctx, m.FileCatalogUUID)
			if err != nil {
				return errors.Wrapf(err, "fetch file catalog record %s", m.FileCatalogUUID)
			}
			if !hasArchiveLocation(rec, c.DestSite) {
				reason := fmt.Sprintf("file %s has no confirmed archive location at %s", m.FileCatalogUUID, c.DestSite)
				return worker.NewWorkError(worker.ErrProtocol, reason, nil)
			}
			name, _ := rec["logical_name"].(string)
			logicalNames = append(logicalNames, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// §5 "Leases and lost workers": re-confirm we still hold the lease via
	// a conditional PATCH (compare-and-set on claimant) before the one
	// irreversible side effect this component has — deleting warehouse
	// files. The archive-location scan above may have spent a long time
	// paging Metadata and File Catalog records; don't act on a lease that
	// has since expired and been reclaimed by another replica.
	if c.StaleClaimAfter > 0 && b.IsStale(c.StaleClaimAfter, time.Now()) {
		return worker.NewWorkError(worker.ErrResource, "lease stale before delete, abandoning without touching warehouse files", nil)
	}
	if err := c.DB.PatchBundleIfClaimant(ctx, b.UUID, c.Claimant, map[string]any{
		"update_timestamp": time.Now().UTC(),
	}); err != nil {
		if errors.Is(err, ltadb.ErrLeaseLost) {
			return worker.NewWorkError(worker.ErrProtocol, "lease lost before delete: claimant no longer matches", err)
		}
		return errors.Wrap(err, "confirm lease before delete")
	}

	if c.WarehouseRoot != "" {
		if err := c.preflightWalk(); err != nil {
			return errors.Wrap(err, "warehouse preflight walk")
		}
	}

	var failures []string
	for _, name := range logicalNames {
		path := name
		if c.WarehouseRoot != "" {
			path = filepath.Join(c.WarehouseRoot, cos.RelPath(name, b.Path))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		reason := fmt.Sprintf("failed to delete %d of %d files: %v", len(failures), len(logicalNames), failures[0])
		return worker.NewWorkError(worker.ErrResource, reason, nil)
	}

	return c.DB.PatchBundle(ctx, b.UUID, map[string]any{
		"status": lta.BundleDeleted,
	})
}

// preflightWalk does a cheap sanity pass over the warehouse mount before any
// destructive call, catching a stale or unmounted mount point early rather
// than failing midway through file-by-file removal.
func (c *Component) preflightWalk() error {
	return godirwalk.Walk(c.WarehouseRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != c.WarehouseRoot {
				return filepath.SkipDir
			}
			return nil
		},
		Unsorted: true,
	})
}

func hasArchiveLocation(rec fcatalog.File, site string) bool {
	raw, ok := rec["locations"].([]any)
	if !ok {
		return false
	}
	for _, v := range raw {
		loc, ok := v.(map[string]any)
		if !ok {
			continue
		}
		locSite, _ := loc["site"].(string)
		archive, _ := loc["archive"].(bool)
		if locSite == site && archive {
			return true
		}
	}
	return false
}
