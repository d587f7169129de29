// Package lmetrics wraps prometheus/client_golang into the small counter
// set every LTA worker binary exposes on PROMETHEUS_METRICS_PORT.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package lmetrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set is the metrics surface one component replica registers and updates.
type Set struct {
	reg         *prometheus.Registry
	Claims      *prometheus.CounterVec
	Quarantines prometheus.Counter
	WorkCycle   prometheus.Histogram
	srv         *http.Server
}

// New constructs and registers a fresh metric set for component.
func New(component string) *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		reg: reg,
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lta_claims_total",
			Help: "Work-loop claim attempts by result.",
			ConstLabels: prometheus.Labels{"component": component},
		}, []string{"result"}),
		Quarantines: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lta_quarantines_total",
			Help:        "Records quarantined by this replica.",
			ConstLabels: prometheus.Labels{"component": component},
		}),
		WorkCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lta_work_cycle_seconds",
			Help:        "Duration of one claim-process-update cycle.",
			ConstLabels: prometheus.Labels{"component": component},
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(s.Claims, s.Quarantines, s.WorkCycle)
	return s
}

// Serve binds the registry's HTTP handler on port; a zero port disables it.
func (s *Set) Serve(port int) {
	if port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nlog.Errorf("metrics server: %v", err)
		}
	}()
}

func (s *Set) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(c)
}
