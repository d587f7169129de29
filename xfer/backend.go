// Package xfer defines the narrow Transfer Service backend interface (§6.3)
// and its concrete drivers: one grid/tape-style driver per archival site
// technology, selected by the TRANSFER_BACKEND configuration key.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package xfer

import (
	"context"
	"io"
	"time"
)

// Status is a transfer task's terminal or in-flight state (§6.3).
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusInactive  Status = "INACTIVE"
)

// Backend is the narrow interface the Replicator and Source-Move Verifier
// depend on (§6.3, §9 "polymorphism-by-subclass... replace with a small
// interface"). Implementations must not leak tokens to logs and must
// respect ctx cancellation at every suspension point (§5).
type Backend interface {
	// Scheme names this driver, used to build the "<scheme>/<task_id>"
	// transfer_reference recorded on the Bundle (§4.4 step 3).
	Scheme() string

	// TransferFile transfers the absolute local sourcePath to destURL and
	// returns an opaque task id. The drivers in this package finish the
	// copy before returning; none of them submits in the background.
	TransferFile(ctx context.Context, sourcePath, destURL string, timeout time.Duration) (taskID string, err error)

	// WaitForTransferToFinish reports the task's terminal status. The
	// drivers in this package check the task once instead of polling and
	// do not use pollInterval.
	WaitForTransferToFinish(ctx context.Context, taskID string, pollInterval time.Duration) (Status, error)

	// CancelTask makes a best-effort attempt to cancel an in-flight task.
	CancelTask(ctx context.Context, taskID string) error

	// FetchFile streams the bytes at destURL into w, used by the
	// Source-Move Verifier to re-read the remote copy (§4.5 step 2).
	FetchFile(ctx context.Context, destURL string, w io.Writer) error
}
