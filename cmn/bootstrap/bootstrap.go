// Package bootstrap holds the setup sequence every component's cmd/ main
// shares: parse environment, build the OIDC token sources and REST clients,
// and wire up metrics. Keeping it in one place means the seven worker
// binaries stay nearly identical shell around their one distinct Component.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package bootstrap

import (
	"github.com/pkg/errors"

	"github.com/WIPACrepo/lta-sub001/auth"
	"github.com/WIPACrepo/lta-sub001/cmn/config"
	"github.com/WIPACrepo/lta-sub001/cmn/lmetrics"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

// Common is the shared plumbing every component binary needs before it can
// construct its own Component and worker.Loop.
type Common struct {
	Cfg       config.Common
	DB        *ltadb.Client
	FC        *fcatalog.Client
	Metrics   *lmetrics.Set
	Heartbeat *worker.Heartbeat

	dbTokens *auth.Cache
	fcTokens *auth.Cache
}

// Setup loads the shared §6.4 configuration and constructs the LTA DB client
// and (if FILE_CATALOG_REST_URL is set) the File Catalog client, each with
// its own in-memory OIDC token cache. component names the metrics set and
// log prefix.
func Setup(component string, r *config.Reader) (*Common, error) {
	cfg := config.LoadCommon(r)
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "configuration error")
	}

	nlog.SetLevel(nlog.ParseLevel(cfg.LogLevel))
	nlog.SetPrefix(component)

	dbCache, err := auth.OpenCache(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "open ltadb token cache")
	}
	dbTokens := auth.NewClientCredentials(cfg.LTAAuthOpenIDURL, cfg.ClientID, cfg.ClientSecret, dbCache)
	db := ltadb.New(cfg.LTARestURL, dbTokens, cfg.WorkRetries)

	c := &Common{Cfg: cfg, DB: db, Metrics: lmetrics.New(component), dbTokens: dbCache}
	if cfg.HeartbeatURL != "" {
		c.Heartbeat = worker.NewHeartbeat(cfg.HeartbeatURL, component, cfg.HeartbeatInterval)
	}

	if cfg.FCRestURL != "" {
		fcCache, err := auth.OpenCache(":memory:")
		if err != nil {
			return nil, errors.Wrap(err, "open file-catalog token cache")
		}
		fcTokens := auth.NewClientCredentials(cfg.LTAAuthOpenIDURL, cfg.FCClientID, cfg.FCClientSecret, fcCache)
		c.FC = fcatalog.New(cfg.FCRestURL, fcTokens, cfg.WorkRetries)
		c.fcTokens = fcCache
	}

	c.Metrics.Serve(cfg.PrometheusPort)
	return c, nil
}

func (c *Common) Close() {
	_ = c.dbTokens.Close()
	_ = c.fcTokens.Close()
}
