// Command reconcile reports, per pipeline stage, how many rows are waiting
// against how many the operator has told it each stage is allowed to carry
// concurrently, and recommends which stages have headroom to scale out.
//
// It is read-only: unlike the scheduler it is modeled on, it never submits
// a job itself. Site operators vary too widely in how they launch worker
// replicas (slurm, k8s, bare systemd units) for this tool to assume one.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/WIPACrepo/lta-sub001/cmn/bootstrap"
	"github.com/WIPACrepo/lta-sub001/cmn/config"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/lta"
)

// stage pairs a Bundle status that gates a pipeline component with the
// maximum number of rows it should ever be allowed to carry at once,
// mirroring JOB_LIMITS/JOB_PRIORITY from the site's job controller.
type stage struct {
	name   string
	status lta.BundleStatus
	limit  int
}

func main() {
	r := config.NewReader(os.LookupEnv)
	limits := map[string]int{
		"bundler":     r.OptionalInt("RECONCILE_LIMIT_BUNDLER", 10),
		"replicator":  r.OptionalInt("RECONCILE_LIMIT_REPLICATOR", 10),
		"verifier":    r.OptionalInt("RECONCILE_LIMIT_VERIFIER", 10),
		"cataloger":   r.OptionalInt("RECONCILE_LIMIT_CATALOGER", 10),
		"deleter":     r.OptionalInt("RECONCILE_LIMIT_DELETER", 2),
	}

	common, err := bootstrap.Setup("reconcile", r)
	if err != nil {
		nlog.Errorf("setup failed: %v", err)
		os.Exit(1)
	}
	defer common.Close()

	stages := []stage{
		{"bundler", lta.BundleSpecified, limits["bundler"]},
		{"replicator", lta.BundleCreated, limits["replicator"]},
		{"verifier", lta.BundleTransferring, limits["verifier"]},
		{"cataloger", lta.BundleTaping, limits["cataloger"]},
		{"deleter", lta.BundleCompleted, limits["deleter"]},
	}

	ctx := context.Background()
	fmt.Printf("%-12s %10s %10s %s\n", "STAGE", "WAITING", "LIMIT", "RECOMMENDATION")
	for _, s := range stages {
		n, err := common.DB.CountBundles(ctx, s.status)
		if err != nil {
			nlog.Errorf("count %s: %v", s.name, err)
			continue
		}
		rec := "idle"
		if n > 0 {
			rec = fmt.Sprintf("scale to %d replicas", min(n, s.limit))
		}
		fmt.Printf("%-12s %10d %10d %s\n", s.name, n, s.limit, rec)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
