// Package replicator submits a Bundle's archive for transfer to its
// destination site and watches the transfer through to completion (§4.4).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package replicator

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
	"github.com/WIPACrepo/lta-sub001/xfer"
)

// Component is the Replicator worker (§4.4): created -> transferring.
type Component struct {
	DB                *ltadb.Client
	Backend           xfer.Backend
	Claimant          string
	SourceSite        string
	DestSite          string
	DestPrefix        string
	UseFullBundlePath bool
	Timeout           time.Duration
	PollInterval      time.Duration
}

func New(db *ltadb.Client, backend xfer.Backend, claimant, sourceSite, destSite, destPrefix string, useFullBundlePath bool, timeout, pollInterval time.Duration) *Component {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Component{
		DB: db, Backend: backend, Claimant: claimant,
		SourceSite: sourceSite, DestSite: destSite, DestPrefix: destPrefix,
		UseFullBundlePath: useFullBundlePath,
		Timeout:           timeout, PollInterval: pollInterval,
	}
}

func (c *Component) Name() string { return "replicator" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	b, err := c.DB.PopBundle(ctx, c.SourceSite, c.DestSite, lta.BundleCreated, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("replicator pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.replicate(ctx, b); err != nil {
		nlog.Errorf("replicator: quarantining %s: %v", b.UUID, err)
		if qerr := c.DB.QuarantineBundle(ctx, b, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("replicator: quarantine of %s also failed: %v", b.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// destURL builds the destination path from the bundle's own path per
// USE_FULL_BUNDLE_PATH (§4.4 step 1): dest_root joined with either
// basename(bundle_path) (false) or path++basename(bundle_path) (true).
func (c *Component) destURL(b *lta.Bundle) string {
	base := path.Base(b.BundlePath)
	if c.UseFullBundlePath {
		return fmt.Sprintf("%s/%s/%s", c.DestPrefix, strings.Trim(b.Path, "/"), base)
	}
	return fmt.Sprintf("%s/%s", c.DestPrefix, base)
}

// replicate implements §4.4 steps 1-5.
func (c *Component) replicate(ctx context.Context, b *lta.Bundle) error {
	dest := c.destURL(b)

	taskID, err := c.Backend.TransferFile(ctx, b.BundlePath, dest, c.Timeout)
	if err != nil {
		return errors.Wrap(err, "submit transfer")
	}
	ref := fmt.Sprintf("%s/%s", c.Backend.Scheme(), taskID)
	if err := c.DB.PatchBundle(ctx, b.UUID, map[string]any{"transfer_reference": ref}); err != nil {
		return errors.Wrap(err, "record transfer reference")
	}

	status, err := c.waitWithTimeout(ctx, taskID)
	if err != nil {
		c.bestEffortCancel(ctx, taskID)
		return errors.Wrap(err, "wait for transfer")
	}
	switch status {
	case xfer.StatusSucceeded:
		// fallthrough to success patch below
	case xfer.StatusFailed, xfer.StatusInactive:
		reason := fmt.Sprintf("transfer %s ended in status %s", taskID, status)
		return worker.NewWorkError(worker.ErrTransient, reason, nil)
	default:
		c.bestEffortCancel(ctx, taskID)
		reason := fmt.Sprintf("transfer %s did not reach a terminal status (last: %s)", taskID, status)
		return worker.NewWorkError(worker.ErrTransient, reason, nil)
	}

	return c.DB.PatchBundle(ctx, b.UUID, map[string]any{
		"status": lta.BundleTransferring,
	})
}

func (c *Component) waitWithTimeout(ctx context.Context, taskID string) (xfer.Status, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return c.Backend.WaitForTransferToFinish(waitCtx, taskID, c.PollInterval)
}

func (c *Component) bestEffortCancel(ctx context.Context, taskID string) {
	if err := c.Backend.CancelTask(ctx, taskID); err != nil {
		nlog.Warningf("replicator: cancel of %s failed: %v", taskID, err)
	}
}
