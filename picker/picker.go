package picker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

// Component is the Picker worker (§4.2): one TransferRequest at *ethereal*
// becomes one or more Bundles at *specified* plus Metadata rows.
type Component struct {
	DB              *ltadb.Client
	FC              *fcatalog.Client
	Claimant        string
	SourceSite      string
	DestSite        string
	IdealSize       int64
	PageSize        int
	StaleClaimAfter time.Duration
}

// New validates configuration at construction time: a non-positive
// IDEAL_BUNDLE_SIZE means the Picker refuses to start (§4.2 edge cases).
func New(db *ltadb.Client, fc *fcatalog.Client, claimant, sourceSite, destSite string, idealSize int64, pageSize int, staleClaimAfter time.Duration) (*Component, error) {
	if idealSize <= 0 {
		return nil, errors.New("IDEAL_BUNDLE_SIZE must be positive")
	}
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Component{
		DB: db, FC: fc, Claimant: claimant,
		SourceSite: sourceSite, DestSite: destSite,
		IdealSize: idealSize, PageSize: pageSize,
		StaleClaimAfter: staleClaimAfter,
	}, nil
}

func (c *Component) Name() string { return "picker" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	tr, err := c.DB.PopTransferRequest(ctx, c.SourceSite, c.DestSite, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("picker pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.expand(ctx, tr); err != nil {
		nlog.Errorf("picker: quarantining %s: %v", tr.UUID, err)
		if qerr := c.DB.QuarantineTransferRequest(ctx, tr, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("picker: quarantine of %s also failed: %v", tr.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// expand implements §4.2's steps 1-5. Any error returned here is wrapped by
// the caller into a quarantine of tr; partially created Bundles are left in
// place per step 5 ("those remain in specified and are safe for the
// Bundler").
func (c *Component) expand(ctx context.Context, tr *lta.TransferRequest) error {
	var (
		files    []FileRef
		dedup    = fcatalog.NewDedup(0)
		archive  = false
	)
	sel := fcatalog.SelectorSiteAndPath(tr.Source, tr.Path, &archive)
	err := c.FC.AllPages(ctx, sel, []string{"uuid", "file_size"}, c.PageSize, func(page []fcatalog.File) error {
		for _, f := range page {
			uuid := f.UUID()
			if uuid == "" || dedup.Seen(uuid) {
				continue
			}
			files = append(files, FileRef{UUID: uuid, Size: f.FileSize()})
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "file catalog query")
	}
	if len(files) == 0 {
		return worker.NewWorkError(worker.ErrProtocol, "File Catalog returned zero files", nil)
	}

	bins, err := Pack(files, c.IdealSize)
	if err != nil {
		return errors.Wrap(err, "bin packing")
	}

	// §5 "Leases and lost workers": the File Catalog paging above may have
	// taken a long time on a multi-million-file path; re-confirm the lease
	// via a conditional PATCH (compare-and-set on claimant) before the
	// first observable side effect (creating Bundles and Metadata rows).
	if c.StaleClaimAfter > 0 && tr.IsStale(c.StaleClaimAfter, time.Now()) {
		return worker.NewWorkError(worker.ErrResource, "lease stale before bundle creation, abandoning", nil)
	}
	if err := c.DB.PatchTransferRequestIfClaimant(ctx, tr.UUID, c.Claimant, map[string]any{
		"update_timestamp": time.Now().UTC(),
	}); err != nil {
		if errors.Is(err, ltadb.ErrLeaseLost) {
			return worker.NewWorkError(worker.ErrProtocol, "lease lost before bundle creation: claimant no longer matches", err)
		}
		return errors.Wrap(err, "confirm lease before bundle creation")
	}

	bundles := make([]*lta.Bundle, 0, len(bins))
	for _, b := range bins {
		bundles = append(bundles, &lta.Bundle{
			Source:    tr.Source,
			Dest:      tr.Dest,
			Path:      tr.Path,
			Status:    lta.BundleSpecified,
			Reason:    "",
			Request:   tr.UUID,
			FileCount: len(b.Files),
		})
	}
	uuids, err := c.DB.BulkCreateBundles(ctx, bundles)
	if err != nil {
		return errors.Wrap(err, "bulk create bundles")
	}
	if len(uuids) != len(bins) {
		reason := fmt.Sprintf("bulk_create returned %d uuids for %d bins", len(uuids), len(bins))
		return worker.NewWorkError(worker.ErrProtocol, reason, nil)
	}

	for i, b := range bins {
		fileUUIDs := make([]string, len(b.Files))
		for j, f := range b.Files {
			fileUUIDs[j] = f.UUID
		}
		n, err := c.DB.BulkCreateMetadata(ctx, uuids[i], fileUUIDs)
		if err != nil {
			return errors.Wrapf(err, "bulk create metadata for bundle %s", uuids[i])
		}
		if n != len(fileUUIDs) {
			reason := fmt.Sprintf("metadata bulk_create reported %d rows for %d files in bundle %s", n, len(fileUUIDs), uuids[i])
			return worker.NewWorkError(worker.ErrProtocol, reason, nil)
		}
	}

	return c.DB.PatchTransferRequest(ctx, tr.UUID, map[string]any{
		"status": lta.TRStatusSpecified,
	})
}
