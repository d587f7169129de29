// Package ltadb is the REST client for the LTA DB (§6.1): pop, patch, and
// bulk_create against TransferRequests, Bundles, and Metadata.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package ltadb

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/WIPACrepo/lta-sub001/auth"
	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/lta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a bounded-retry REST client against the LTA DB.
type Client struct {
	BaseURL string
	Tokens  auth.TokenSource
	HTTP    *fasthttp.Client
	Retries int
	Backoff time.Duration
}

func New(baseURL string, tokens auth.TokenSource, retries int) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    &fasthttp.Client{Name: "lta-db-client", MaxConnsPerHost: 64},
		Retries: retries,
		Backoff: 500 * time.Millisecond,
	}
}

// ErrNoWork is returned (as a sentinel, not an error state) by the Pop*
// methods when the server had nothing eligible to claim.
var ErrNoWork = errors.New("no eligible work")

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Backoff * time.Duration(attempt)):
			}
		}
		err := c.once(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		nlog.Warningf("ltadb %s %s attempt %d/%d failed: %v", method, path, attempt+1, c.Retries+1, err)
	}
	return errors.Wrapf(lastErr, "ltadb %s %s exhausted %d retries", method, path, c.Retries)
}

type transientErr struct{ error }

func isTransient(err error) bool {
	_, ok := errors.Cause(err).(transientErr)
	return ok
}

type conflictErr struct{ error }

func isConflict(err error) bool {
	_, ok := errors.Cause(err).(conflictErr)
	return ok
}

// ErrLeaseLost is returned by the *IfClaimant patch methods when the server
// finds the record is no longer held by the caller's claimant (§5 "Leases
// and lost workers": the compare-and-set lost a race against another
// replica that reclaimed an expired lease).
var ErrLeaseLost = errors.New("lease lost: claimant no longer matches")

func (c *Client) once(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch bearer token")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.BaseURL + path
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.SetContentType("application/json")
	for k, v := range query {
		req.URI().QueryArgs().Set(k, v)
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		req.SetBody(b)
	}

	if err := c.HTTP.Do(req, resp); err != nil {
		return transientErr{errors.Wrap(err, "http transport")}
	}
	code := resp.StatusCode()
	if code >= 500 {
		return transientErr{errors.Errorf("ltadb %s %s: server error %d: %s", method, path, code, resp.Body())}
	}
	if code == fasthttp.StatusConflict {
		return conflictErr{errors.Errorf("ltadb %s %s: conflict %d: %s", method, path, code, resp.Body())}
	}
	if code >= 400 {
		return errors.Errorf("ltadb %s %s: client error %d: %s", method, path, code, resp.Body())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrap(err, "unmarshal response body")
		}
	}
	return nil
}

// PopTransferRequest claims the oldest eligible ethereal TransferRequest for
// (source, dest), or returns ErrNoWork.
func (c *Client) PopTransferRequest(ctx context.Context, source, dest, claimant string) (*lta.TransferRequest, error) {
	var out struct {
		TransferRequest *lta.TransferRequest `json:"transfer_request"`
	}
	q := map[string]string{"source": source, "dest": dest}
	err := c.do(ctx, fasthttp.MethodPost, "/TransferRequests/actions/pop", q, map[string]string{"claimant": claimant}, &out)
	if err != nil {
		return nil, err
	}
	if out.TransferRequest == nil {
		return nil, ErrNoWork
	}
	return out.TransferRequest, nil
}

// PopBundle claims the oldest eligible Bundle at status for (source, dest).
func (c *Client) PopBundle(ctx context.Context, source, dest string, status lta.BundleStatus, claimant string) (*lta.Bundle, error) {
	var out struct {
		Bundle *lta.Bundle `json:"bundle"`
	}
	q := map[string]string{"source": source, "dest": dest, "status": string(status)}
	err := c.do(ctx, fasthttp.MethodPost, "/Bundles/actions/pop", q, map[string]string{"claimant": claimant}, &out)
	if err != nil {
		return nil, err
	}
	if out.Bundle == nil {
		return nil, ErrNoWork
	}
	return out.Bundle, nil
}

// PatchBundle applies a partial update; the server enforces §4.9's
// transition graph.
func (c *Client) PatchBundle(ctx context.Context, uuid string, patch map[string]any) error {
	return c.do(ctx, fasthttp.MethodPatch, "/Bundles/"+uuid, nil, patch, nil)
}

func (c *Client) PatchTransferRequest(ctx context.Context, uuid string, patch map[string]any) error {
	return c.do(ctx, fasthttp.MethodPatch, "/TransferRequests/"+uuid, nil, patch, nil)
}

// PatchBundleIfClaimant re-confirms the caller still holds the lease before
// applying patch: a conditional PATCH, compare-and-set on claimant (§5
// "Leases and lost workers" — required before any observable side effect
// such as deleting a warehouse file). The server rejects with a conflict if
// the record's claimant has since changed, surfaced here as ErrLeaseLost so
// the caller can abandon the cycle instead of acting on a lease it no
// longer holds.
func (c *Client) PatchBundleIfClaimant(ctx context.Context, uuid, claimant string, patch map[string]any) error {
	body := map[string]any{"if_claimant": claimant}
	for k, v := range patch {
		body[k] = v
	}
	err := c.do(ctx, fasthttp.MethodPatch, "/Bundles/"+uuid, map[string]string{"if_claimant": claimant}, body, nil)
	if isConflict(err) {
		return ErrLeaseLost
	}
	return err
}

// PatchTransferRequestIfClaimant is PatchBundleIfClaimant's TransferRequest
// counterpart.
func (c *Client) PatchTransferRequestIfClaimant(ctx context.Context, uuid, claimant string, patch map[string]any) error {
	body := map[string]any{"if_claimant": claimant}
	for k, v := range patch {
		body[k] = v
	}
	err := c.do(ctx, fasthttp.MethodPatch, "/TransferRequests/"+uuid, map[string]string{"if_claimant": claimant}, body, nil)
	if isConflict(err) {
		return ErrLeaseLost
	}
	return err
}

// QuarantineBundle applies the quarantine primitive from §4.1.
func (c *Client) QuarantineBundle(ctx context.Context, b *lta.Bundle, worker, reason string) error {
	patch := map[string]any{
		"original_status":         b.Status,
		"status":                  lta.BundleQuarantined,
		"reason":                  cos.ShortErr(worker, reason),
		"work_priority_timestamp": time.Now().UTC(),
	}
	return c.PatchBundle(ctx, b.UUID, patch)
}

func (c *Client) QuarantineTransferRequest(ctx context.Context, tr *lta.TransferRequest, worker, reason string) error {
	patch := map[string]any{
		"original_status":         tr.Status,
		"status":                  lta.TRStatusQuarantined,
		"reason":                  cos.ShortErr(worker, reason),
		"work_priority_timestamp": time.Now().UTC(),
	}
	return c.PatchTransferRequest(ctx, tr.UUID, patch)
}

// BulkCreateBundles creates many Bundles in one call, returning their uuids.
func (c *Client) BulkCreateBundles(ctx context.Context, bundles []*lta.Bundle) ([]string, error) {
	var out struct {
		Bundles []string `json:"bundles"`
	}
	body := map[string]any{"bundles": bundles}
	if err := c.do(ctx, fasthttp.MethodPost, "/Bundles/actions/bulk_create", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Bundles, nil
}

// BulkCreateMetadata creates Metadata rows for bundleUUID in chunks of at
// most MaxMetadataChunk (§4.2 step 4: "chunks of ≤ 1,000").
const MaxMetadataChunk = 1000

func (c *Client) BulkCreateMetadata(ctx context.Context, bundleUUID string, fileUUIDs []string) (int, error) {
	total := 0
	for start := 0; start < len(fileUUIDs); start += MaxMetadataChunk {
		end := start + MaxMetadataChunk
		if end > len(fileUUIDs) {
			end = len(fileUUIDs)
		}
		var out struct {
			Count int `json:"count"`
		}
		body := map[string]any{"bundle_uuid": bundleUUID, "files": fileUUIDs[start:end]}
		if err := c.do(ctx, fasthttp.MethodPost, "/Metadata/actions/bulk_create", nil, body, &out); err != nil {
			return total, err
		}
		total += out.Count
	}
	return total, nil
}

// CountBundles reports how many Bundles currently sit at status, used by
// read-only reconciliation tooling to decide where a pipeline is backed up.
func (c *Client) CountBundles(ctx context.Context, status lta.BundleStatus) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	q := map[string]string{"status": string(status)}
	if err := c.do(ctx, fasthttp.MethodGet, "/Bundles/count", q, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) CountTransferRequests(ctx context.Context, status lta.TransferRequestStatus) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	q := map[string]string{"status": string(status)}
	if err := c.do(ctx, fasthttp.MethodGet, "/TransferRequests/count", q, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type metadataPage struct {
	Results []lta.Metadata `json:"results"`
}

// ListMetadataPage fetches one page of Metadata rows for bundleUUID.
func (c *Client) ListMetadataPage(ctx context.Context, bundleUUID string, limit, skip int) ([]lta.Metadata, error) {
	q := map[string]string{
		"bundle_uuid": bundleUUID,
		"limit":       fmt.Sprintf("%d", limit),
		"skip":        fmt.Sprintf("%d", skip),
	}
	var page metadataPage
	if err := c.do(ctx, fasthttp.MethodGet, "/Metadata", q, nil, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// AllMetadata pages through every Metadata row for bundleUUID, invoking fn
// per page (§4.3 step 2: "limit=1000, skip increased by the returned count").
func (c *Client) AllMetadata(ctx context.Context, bundleUUID string, pageSize int, fn func([]lta.Metadata) error) error {
	skip := 0
	for {
		page, err := c.ListMetadataPage(ctx, bundleUUID, pageSize, skip)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		skip += len(page)
		if len(page) < pageSize {
			return nil
		}
	}
}
