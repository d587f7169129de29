// Package verifier re-reads a transferred Bundle from its destination site
// and confirms its SHA-512 before it is handed to tape (§4.5, Source-Move
// Verifier).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package verifier

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
	"github.com/WIPACrepo/lta-sub001/xfer"
)

// Component is the Source-Move Verifier worker (§4.5): transferring -> taping.
type Component struct {
	DB                *ltadb.Client
	Backend           xfer.Backend
	Claimant          string
	SourceSite        string
	DestSite          string
	DestPrefix        string
	UseFullBundlePath bool
	ScratchDir        string
}

func New(db *ltadb.Client, backend xfer.Backend, claimant, sourceSite, destSite, destPrefix string, useFullBundlePath bool, scratchDir string) *Component {
	return &Component{
		DB: db, Backend: backend, Claimant: claimant,
		SourceSite: sourceSite, DestSite: destSite,
		DestPrefix: destPrefix, UseFullBundlePath: useFullBundlePath, ScratchDir: scratchDir,
	}
}

// destURL mirrors the replicator's placement policy (§4.4 step 1) so the
// verifier pulls back the same object the replicator wrote (§4.5 step 2).
func (c *Component) destURL(b *lta.Bundle) string {
	base := path.Base(b.BundlePath)
	if c.UseFullBundlePath {
		return fmt.Sprintf("%s/%s/%s", c.DestPrefix, strings.Trim(b.Path, "/"), base)
	}
	return fmt.Sprintf("%s/%s", c.DestPrefix, base)
}

func (c *Component) Name() string { return "verifier" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	b, err := c.DB.PopBundle(ctx, c.SourceSite, c.DestSite, lta.BundleTransferring, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("verifier pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.verify(ctx, b); err != nil {
		nlog.Errorf("verifier: quarantining %s: %v", b.UUID, err)
		if qerr := c.DB.QuarantineBundle(ctx, b, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("verifier: quarantine of %s also failed: %v", b.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

// verify implements §4.5 steps 1-4: pull the remote copy back to scratch,
// re-hash it, and compare against the checksum recorded by the Bundler.
func (c *Component) verify(ctx context.Context, b *lta.Bundle) error {
	if b.Checksum.Empty() {
		return worker.NewWorkError(worker.ErrProtocol, "bundle has no recorded checksum to verify against", nil)
	}
	destURL := c.destURL(b)

	scratch, err := os.CreateTemp(c.ScratchDir, b.UUID+"-*.verify")
	if err != nil {
		return errors.Wrap(err, "create scratch file")
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if err := c.Backend.FetchFile(ctx, destURL, scratch); err != nil {
		scratch.Close()
		return errors.Wrap(err, "fetch remote copy")
	}
	if _, err := scratch.Seek(0, 0); err != nil {
		scratch.Close()
		return errors.Wrap(err, "seek scratch file")
	}

	sum, err := cos.SHA512Stream(scratch)
	scratch.Close()
	if err != nil {
		return errors.Wrap(err, "hash remote copy")
	}

	if sum != b.Checksum.SHA512 {
		reason := fmt.Sprintf("Checksum mismatch between creation and destination: %s", sum)
		return worker.NewWorkError(worker.ErrDataIntegrity, reason, nil)
	}

	return c.DB.PatchBundle(ctx, b.UUID, map[string]any{
		"status": lta.BundleTaping,
	})
}
