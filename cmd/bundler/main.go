// Command bundler runs one Bundler replica: Bundles at specified become
// ZIP64 archives on disk, status created (§4.3).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/WIPACrepo/lta-sub001/bundler"
	"github.com/WIPACrepo/lta-sub001/cmn/bootstrap"
	"github.com/WIPACrepo/lta-sub001/cmn/config"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/worker"
)

func main() {
	r := config.NewReader(os.LookupEnv)
	sourceSite := r.Required("SOURCE_SITE")
	destSite := r.Required("DEST_SITE")
	claimant := r.Optional("CLAIMANT", hostnameOrDefault("bundler"))
	workbox := r.Required("BUNDLER_WORKBOX_PATH")
	outbox := r.Optional("BUNDLER_OUTBOX_PATH", "")
	warehouseRoot := r.Optional("WAREHOUSE_PATH", "")

	common, err := bootstrap.Setup("bundler", r)
	if err != nil {
		nlog.Errorf("setup failed: %v", err)
		os.Exit(1)
	}
	defer common.Close()

	comp := bundler.New(common.DB, common.FC, claimant, sourceSite, destSite, workbox, outbox, warehouseRoot)

	loop := &worker.Loop{
		Runner:         comp,
		Sleep:          common.Cfg.WorkSleep,
		RunOnceAndDie:  common.Cfg.RunOnceAndDie,
		RunUntilNoWork: common.Cfg.RunUntilNoWork,
		Metrics:        common.Metrics,
		Heartbeat:      common.Heartbeat,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	loop.RunForever(ctx)
}

func hostnameOrDefault(def string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return def
	}
	return h
}
