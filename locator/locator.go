// Package locator implements the restore-direction counterpart to the
// Picker (§4.7): given a TransferRequest whose source is an archive site,
// it finds which already-archived Bundles cover the requested path and
// queues each for restore by creating a Bundle at status located.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package locator

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

// Component is the Locator worker: TransferRequest ethereal -> specified,
// producing one or more Bundles at located.
type Component struct {
	DB         *ltadb.Client
	FC         *fcatalog.Client
	Claimant   string
	SourceSite string
	DestSite   string
	PageSize   int
}

func New(db *ltadb.Client, fc *fcatalog.Client, claimant, sourceSite, destSite string, pageSize int) *Component {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Component{DB: db, FC: fc, Claimant: claimant, SourceSite: sourceSite, DestSite: destSite, PageSize: pageSize}
}

func (c *Component) Name() string { return "locator" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	tr, err := c.DB.PopTransferRequest(ctx, c.SourceSite, c.DestSite, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("locator pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.locate(ctx, tr); err != nil {
		nlog.Errorf("locator: quarantining %s: %v", tr.UUID, err)
		if qerr := c.DB.QuarantineTransferRequest(ctx, tr, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("locator: quarantine of %s also failed: %v", tr.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// archiveGroup accumulates the files a single already-archived Bundle
// covers, keyed by that Bundle's archive uuid (§4.7: "derived from the
// locations[].path, by stripping directory prefix and file extension").
type archiveGroup struct {
	bundlePath string
	fileCount  int
}

func (c *Component) locate(ctx context.Context, tr *lta.TransferRequest) error {
	archive := true
	sel := fcatalog.SelectorSiteAndPath(tr.Source, tr.Path, &archive)

	groups := map[string]*archiveGroup{}
	seen := fcatalog.NewDedup(0)
	err := c.FC.AllPages(ctx, sel, []string{"uuid", "file_size", "locations"}, c.PageSize, func(page []fcatalog.File) error {
		for _, f := range page {
			if uuid := f.UUID(); uuid != "" && seen.Seen(uuid) {
				continue
			}
			p := archivePathForSite(f, tr.Source)
			if p == "" {
				continue
			}
			uuid := archiveUUIDFromPath(p)
			g, ok := groups[uuid]
			if !ok {
				g = &archiveGroup{bundlePath: p}
				groups[uuid] = g
			}
			g.fileCount++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "file catalog query")
	}
	if len(groups) == 0 {
		return worker.NewWorkError(worker.ErrProtocol, "no archived bundles cover the requested path", nil)
	}

	for archiveUUID, g := range groups {
		rec, err := c.FC.GetFile(ctx, archiveUUID)
		if err != nil {
			return errors.Wrapf(err, "fetch archive bundle record %s", archiveUUID)
		}
		cp := lta.Project(rec)
		b := &lta.Bundle{
			Source:     tr.Source,
			Dest:       tr.Dest,
			Path:       tr.Path,
			Status:     lta.BundleLocated,
			Request:    tr.UUID,
			FileCount:  g.fileCount,
			Size:       cp.FileSize,
			BundlePath: g.bundlePath,
			Catalog:    cp,
		}
		if cs, ok := rec["checksum"]; ok {
			b.Checksum = checksumFrom(cs)
		}
		uuids, err := c.DB.BulkCreateBundles(ctx, []*lta.Bundle{b})
		if err != nil {
			return errors.Wrapf(err, "create located bundle for archive %s", archiveUUID)
		}
		if len(uuids) != 1 {
			return errors.Errorf("bulk_create returned %d uuids for 1 located bundle", len(uuids))
		}
	}

	return c.DB.PatchTransferRequest(ctx, tr.UUID, map[string]any{
		"status": lta.TRStatusSpecified,
	})
}

// archiveUUIDFromPath strips the directory prefix and file extension from
// an archive location path to recover the archive-bundle uuid it was
// catalogued under (§4.7).
func archiveUUIDFromPath(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// checksumFrom converts the untyped checksum value embedded in a
// File-Catalog record into a cos.Checksum, tolerating either shape the
// catalog may return it in.
func checksumFrom(v any) (out cos.Checksum) {
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	if s, ok := m["sha512"].(string); ok {
		out.SHA512 = s
	}
	if s, ok := m["adler32"].(string); ok {
		out.Adler32 = s
	}
	return out
}

// archivePathForSite returns the archive bundle path recorded in f's
// locations for site, or "" if none matches.
func archivePathForSite(f fcatalog.File, site string) string {
	raw, ok := f["locations"].([]any)
	if !ok {
		return ""
	}
	for _, v := range raw {
		loc, ok := v.(map[string]any)
		if !ok {
			continue
		}
		locSite, _ := loc["site"].(string)
		archive, _ := loc["archive"].(bool)
		if locSite == site && archive {
			path, _ := loc["path"].(string)
			return path
		}
	}
	return ""
}
