// Command cataloger runs one Cataloger replica: Bundles at taping get an
// archive location recorded on every file they carry, status completed.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/WIPACrepo/lta-sub001/cataloger"
	"github.com/WIPACrepo/lta-sub001/cmn/bootstrap"
	"github.com/WIPACrepo/lta-sub001/cmn/config"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/worker"
)

func main() {
	r := config.NewReader(os.LookupEnv)
	sourceSite := r.Required("SOURCE_SITE")
	destSite := r.Required("DEST_SITE")
	claimant := r.Optional("CLAIMANT", hostnameOrDefault("cataloger"))

	common, err := bootstrap.Setup("cataloger", r)
	if err != nil {
		nlog.Errorf("setup failed: %v", err)
		os.Exit(1)
	}
	defer common.Close()

	comp := cataloger.New(common.DB, common.FC, claimant, sourceSite, destSite)

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
