// Package config parses a worker binary's environment into a structured,
// validated configuration object, replacing the "dynamic configuration via
// loose dictionaries" pattern: missing or malformed keys are reported
// together and are fatal, once, at start-up (§6.4, §7 Configuration error).
// Only the keys a binary asks for are read; unknown keys are ignored without
// a warning.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/pkg/errors"
)

// Common holds the configuration shared by every component (§6.4).
type Common struct {
	LTARestURL        string
	LTAAuthOpenIDURL  string
	ClientID          string
	ClientSecret      string
	FCRestURL         string
	FCClientID        string
	FCClientSecret    string
	WorkRetries       int
	WorkTimeout       time.Duration
	WorkSleep         time.Duration
	RunOnceAndDie     bool
	RunUntilNoWork    bool
	PrometheusPort    int
	LogLevel          string
	StaleClaimAfter   time.Duration
	HeartbeatURL      string
	HeartbeatInterval time.Duration
}

// Source holds the lookup function under test; production uses os.LookupEnv.
type Source func(string) (string, bool)

// Reader accumulates required/optional env lookups and reports every missing
// required key in one error instead of failing on the first.
type Reader struct {
	src     Source
	missing []string
}

func NewReader(src Source) *Reader {
	if src == nil {
		src = os.LookupEnv
	}
	return &Reader{src: src}
}

func (r *Reader) Err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return errors.Errorf("missing required configuration keys: %s", strings.Join(r.missing, ", "))
}

func (r *Reader) Required(key string) string {
	v, ok := r.src(key)
	if !ok || v == "" {
		r.missing = append(r.missing, key)
		return ""
	}
	return v
}

func (r *Reader) Optional(key, def string) string {
	v, ok := r.src(key)
	if !ok || v == "" {
		return def
	}
	return v
}

func (r *Reader) OptionalInt(key string, def int) int {
	v, ok := r.src(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.missing = append(r.missing, fmt.Sprintf("%s (invalid int %q)", key, v))
		return def
	}
	return n
}

func (r *Reader) OptionalDuration(key string, def time.Duration) time.Duration {
	v, ok := r.src(key)
	if !ok || v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		r.missing = append(r.missing, fmt.Sprintf("%s (invalid seconds %q)", key, v))
		return def
	}
	return time.Duration(secs) * time.Second
}

func (r *Reader) OptionalBool(key string, def bool) bool {
	v, ok := r.src(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.missing = append(r.missing, fmt.Sprintf("%s (invalid bool %q)", key, v))
		return def
	}
	return b
}

func (r *Reader) RequiredByteSize(key string) int64 {
	v := r.Required(key)
	if v == "" {
		return 0
	}
	n, err := cos.ParseByteSize(v)
	if err != nil {
		r.missing = append(r.missing, fmt.Sprintf("%s (%v)", key, err))
		return 0
	}
	return n
}

// LoadCommon reads every §6.4 key shared by all components.
func LoadCommon(r *Reader) Common {
	return Common{
		LTARestURL:        r.Required("LTA_REST_URL"),
		LTAAuthOpenIDURL:  r.Required("LTA_AUTH_OPENID_URL"),
		ClientID:          r.Required("CLIENT_ID"),
		ClientSecret:      r.Required("CLIENT_SECRET"),
		FCRestURL:         r.Optional("FILE_CATALOG_REST_URL", ""),
		FCClientID:        r.Optional("FILE_CATALOG_CLIENT_ID", ""),
		FCClientSecret:    r.Optional("FILE_CATALOG_CLIENT_SECRET", ""),
		WorkRetries:       r.OptionalInt("WORK_RETRIES", 3),
		WorkTimeout:       r.OptionalDuration("WORK_TIMEOUT_SECONDS", 30*time.Second),
		WorkSleep:         r.OptionalDuration("WORK_SLEEP_DURATION_SECONDS", 60*time.Second),
		RunOnceAndDie:     r.OptionalBool("RUN_ONCE_AND_DIE", false),
		RunUntilNoWork:    r.OptionalBool("RUN_UNTIL_NO_WORK", false),
		PrometheusPort:    r.OptionalInt("PROMETHEUS_METRICS_PORT", 0),
		LogLevel:          r.Optional("LOG_LEVEL", "INFO"),
		StaleClaimAfter:   r.OptionalDuration("CLAIM_STALE_SECONDS", 30*time.Minute),
		HeartbeatURL:      r.Optional("HEARTBEAT_PATCH_URL", ""),
		HeartbeatInterval: r.OptionalDuration("HEARTBEAT_INTERVAL_SECONDS", 60*time.Second),
	}
}
