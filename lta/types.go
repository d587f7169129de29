// Package lta holds the shared data model — TransferRequest, Bundle,
// Metadata — and the Bundle/TransferRequest status machines (§3, §4.9).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package lta

import (
	"time"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
)

// TransferRequestStatus enumerates §3's TransferRequest.status values.
type TransferRequestStatus string

const (
	TRStatusEthereal    TransferRequestStatus = "ethereal"
	TRStatusSpecified   TransferRequestStatus = "specified"
	TRStatusQuarantined TransferRequestStatus = "quarantined"
)

// BundleStatus enumerates §3's Bundle.status values.
type BundleStatus string

const (
	BundleSpecified    BundleStatus = "specified"
	BundleCreated      BundleStatus = "created"
	BundleTransferring BundleStatus = "transferring"
	BundleTaping       BundleStatus = "taping"
	BundleCompleted    BundleStatus = "completed"
	BundleDeleted      BundleStatus = "deleted"
	BundleLocated      BundleStatus = "located"
	BundleQuarantined  BundleStatus = "quarantined"
)

// TransferRequest is a user intent to move a logical path between sites (§3).
type TransferRequest struct {
	UUID              string                `json:"uuid"`
	Source            string                `json:"source"`
	Dest              string                `json:"dest"`
	Path              string                `json:"path"`
	Status            TransferRequestStatus `json:"status"`
	OriginalStatus    TransferRequestStatus `json:"original_status,omitempty"`
	Reason            string                `json:"reason,omitempty"`
	Claimant          string                `json:"claimant,omitempty"`
	CreateTimestamp   time.Time             `json:"create_timestamp"`
	UpdateTimestamp   time.Time             `json:"update_timestamp"`
	WorkPriorityTS    time.Time             `json:"work_priority_timestamp"`
}

// CatalogProjection is the cherry-picked File-Catalog record embedded into a
// Bundle once archived (§4.8): only these five fields survive.
type CatalogProjection struct {
	UUID           string      `json:"uuid"`
	Checksum       interface{} `json:"checksum,omitempty"`
	FileSize       int64       `json:"file_size"`
	LogicalName    string      `json:"logical_name"`
	MetaModifyDate string      `json:"meta_modify_date,omitempty"`
}

// Bundle is one archive unit in flight (§3).
type Bundle struct {
	UUID              string             `json:"uuid"`
	Source            string             `json:"source"`
	Dest              string             `json:"dest"`
	Path              string             `json:"path"`
	Status            BundleStatus       `json:"status"`
	OriginalStatus    BundleStatus       `json:"original_status,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	Claimant          string             `json:"claimant,omitempty"`
	FileCount         int                `json:"file_count"`
	Size              int64              `json:"size,omitempty"`
	BundlePath        string             `json:"bundle_path,omitempty"`
	Checksum          cos.Checksum       `json:"checksum,omitempty"`
	TransferReference string             `json:"transfer_reference,omitempty"`
	Verified          bool               `json:"verified"`
	Catalog           *CatalogProjection `json:"catalog,omitempty"`
	Request           string             `json:"request,omitempty"`
	CreateTimestamp   time.Time          `json:"create_timestamp"`
	UpdateTimestamp   time.Time          `json:"update_timestamp"`
	WorkPriorityTS    time.Time          `json:"work_priority_timestamp"`
}

// Metadata is a join row between a Bundle and a File-Catalog file uuid (§3).
type Metadata struct {
	UUID            string `json:"uuid"`
	BundleUUID      string `json:"bundle_uuid"`
	FileCatalogUUID string `json:"file_catalog_uuid"`
}

// IsStale reports whether a claimed, non-terminal row's lease has expired
// per the configured threshold (§5 "Leases and lost workers").
func (b *Bundle) IsStale(threshold time.Duration, now time.Time) bool {
	if b.Claimant == "" || b.IsTerminal() {
		return false
	}
	return now.Sub(b.UpdateTimestamp) > threshold
}

func (b *Bundle) IsTerminal() bool {
	return b.Status == BundleDeleted || b.Status == BundleQuarantined
}

func (tr *TransferRequest) IsTerminal() bool {
	return tr.Status == TRStatusQuarantined
}

// IsStale mirrors Bundle.IsStale for TransferRequest: a claimed,
// non-terminal row whose update_timestamp hasn't advanced within threshold
// is considered lease-expired and reclaimable (§5 "Leases and lost
// workers").
func (tr *TransferRequest) IsStale(threshold time.Duration, now time.Time) bool {
	if tr.Claimant == "" || tr.IsTerminal() {
		return false
	}
	return now.Sub(tr.UpdateTimestamp) > threshold
}

// Project keeps only checksum, file_size, logical_name, meta_modify_date,
// uuid from a richer File-Catalog record map (§4.8).
func Project(full map[string]any) *CatalogProjection {
	cp := &CatalogProjection{}
	if v, ok := full["uuid"].(string); ok {
		cp.UUID = v
	}
	if v, ok := full["logical_name"].(string); ok {
		cp.LogicalName = v
	}
	if v, ok := full["meta_modify_date"].(string); ok {
		cp.MetaModifyDate = v
	}
	if v, ok := full["checksum"]; ok {
		cp.Checksum = v
	}
	switch v := full["file_size"].(type) {
	case float64:
		cp.FileSize = int64(v)
	case int64:
		cp.FileSize = v
	case int:
		cp.FileSize = int64(v)
	}
	return cp
}
