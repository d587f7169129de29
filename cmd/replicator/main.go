// Command replicator runs one Replicator replica: Bundles at created are
// submitted to the configured transfer backend, status transferring (§4.4).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WIPACrepo/lta-sub001/cmn/bootstrap"
	"github.com/WIPACrepo/lta-sub001/cmn/config"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/replicator"
	"github.com/WIPACrepo/lta-sub001/worker"
	"github.com/WIPACrepo/lta-sub001/xfer"
)

func main() {
	r := config.NewReader(os.LookupEnv)
	sourceSite := r.Required("SOURCE_SITE")
	destSite := r.Required("DEST_SITE")
	claimant := r.Optional("CLAIMANT", hostnameOrDefault("replicator"))
	destPrefix := r.Required("DEST_SITE_BASE_PATH")
	useFullBundlePath := r.OptionalBool("USE_FULL_BUNDLE_PATH", false)
	timeout := r.OptionalDuration("TRANSFER_TIMEOUT_SECONDS", 24*time.Hour)
	pollInterval := r.OptionalDuration("TRANSFER_POLL_SECONDS", 30*time.Second)
	backendCfg := xfer.FactoryConfig{
		Backend:         r.Optional("TRANSFER_BACKEND", "file"),
		S3Region:        r.Optional("S3_REGION", ""),
		S3Endpoint:      r.Optional("S3_ENDPOINT", ""),
		AzureServiceURL: r.Optional("AZURE_SERVICE_URL", ""),
		AzureAccount:    r.Optional("AZURE_ACCOUNT", ""),
		AzureKey:        r.Optional("AZURE_KEY", ""),
		HDFSNamenode:    r.Optional("HDFS_NAMENODE", ""),
		HDFSUser:        r.Optional("HDFS_USER", ""),
	}

	common, err := bootstrap.Setup("replicator", r)
	if err != nil {
		nlog.Errorf("setup failed: %v", err)
		os.Exit(1)
	}
	defer common.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := xfer.New(ctx, backendCfg)
	if err != nil {
		nlog.Errorf("transfer backend: %v", err)
		os.Exit(1)
	}

	comp := replicator.New(common.DB, backend, claimant, sourceSite, destSite, destPrefix, useFullBundlePath, timeout, pollInterval)

	loop := &worker.Loop{
		Runner:         comp,
		Sleep:          common.Cfg.WorkSleep,
		RunOnceAndDie:  common.Cfg.RunOnceAndDie,
		RunUntilNoWork: common.Cfg.RunUntilNoWork,
		Metrics:        common.Metrics,
		Heartbeat:      common.Heartbeat,
	}
	loop.RunForever(ctx)
}

func hostnameOrDefault(def string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return def
	}
	return h
}
