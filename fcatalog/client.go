// Package fcatalog is the REST client for the File Catalog (§6.2): paged
// queries by selector, and single-record fetch.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package fcatalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/WIPACrepo/lta-sub001/auth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

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
		HTTP:    &fasthttp.Client{Name: "file-catalog-client", MaxConnsPerHost: 64},
		Retries: retries,
		Backoff: 500 * time.Millisecond,
	}
}

// Selector builds the recognized query operators from §6.2: $eq, $regex.
type Selector map[string]any

func SelectorSiteAndPath(site, path string, archive *bool) Selector {
	s := Selector{
		"locations.site": map[string]any{"$eq": site},
		"locations.path": map[string]any{"$regex": "^" + path},
		"logical_name":   map[string]any{"$regex": "^" + path},
	}
	if archive != nil {
		s["locations.archive"] = map[string]any{"$eq": *archive}
	}
	return s
}

// File is a loosely-typed File-Catalog record; callers pull out only the
// keys they asked for via `keys`.
type File map[string]any

func (f File) UUID() string {
	v, _ := f["uuid"].(string)
	return v
}

func (f File) FileSize() int64 {
	switch v := f["file_size"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

type queryResponse struct {
	Files []File `json:"files"`
}

func (c *Client) doGet(ctx context.Context, path string, query map[string]string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.Backoff * time.Duration(attempt)):
			}
		}
		err := c.once(ctx, path, query, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if _, transient := err.(transientErr); !transient {
			return err
		}
	}
	return errors.Wrapf(lastErr, "file-catalog GET %s exhausted %d retries", path, c.Retries)
}

type transientErr struct{ error }

func (c *Client) once(ctx context.Context, path string, query map[string]string, out any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch bearer token")
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range query {
		req.URI().QueryArgs().Set(k, v)
	}
	if err := c.HTTP.Do(req, resp); err != nil {
		return transientErr{errors.Wrap(err, "http transport")}
	}
	if resp.StatusCode() >= 500 {
		return transientErr{errors.Errorf("file-catalog GET %s: server error %d", path, resp.StatusCode())}
	}
	if resp.StatusCode() >= 400 {
		return errors.Errorf("file-catalog GET %s: client error %d: %s", path, resp.StatusCode(), resp.Body())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrap(err, "unmarshal file-catalog response")
		}
	}
	return nil
}

// QueryPage fetches one page of files matching sel, projecting only keys.
func (c *Client) QueryPage(ctx context.Context, sel Selector, keys []string, limit, start int) ([]File, error) {
	qb, err := json.Marshal(sel)
	if err != nil {
		return nil, errors.Wrap(err, "marshal selector")
	}
	q := map[string]string{
		"query": string(qb),
		"keys":  strings.Join(keys, "|"),
		"limit": fmt.Sprintf("%d", limit),
		"start": fmt.Sprintf("%d", start),
	}
	var out queryResponse
	if err := c.doGet(ctx, "/api/files", q, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// AllPages pages through every File matching sel (§4.2 step 1: "page with
// limit=FILE_CATALOG_PAGE_SIZE, start offset incremented by the returned
// page size; stop when a page is empty"), tolerating a final short page.
func (c *Client) AllPages(ctx context.Context, sel Selector, keys []string, pageSize int, fn func([]File) error) error {
	start := 0
	for {
		page, err := c.QueryPage(ctx, sel, keys, pageSize, start)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		start += len(page)
		if len(page) < pageSize {
			return nil
		}
	}
}

// GetFile fetches one full record by uuid (§6.2 GET /api/files/{uuid}).
func (c *Client) GetFile(ctx context.Context, uuid string) (File, error) {
	var out File
	if err := c.doGet(ctx, "/api/files/"+uuid, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Location is one entry in a File-Catalog record's locations array: a place
// the bytes for that logical file can be read back from.
type Location struct {
	Site    string `json:"site"`
	Path    string `json:"path"`
	Archive bool   `json:"archive"`
}

// AddLocation appends an archive location to a File-Catalog record (used by
// the Cataloger once a Bundle is verified and sitting in the tape queue:
// every file it carries gets a location entry pointing at the archive
// bundle itself).
func (c *Client) AddLocation(ctx context.Context, uuid string, loc Location) error {
	body := map[string]any{"locations": []Location{loc}}
	return c.doPost(ctx, "/api/files/"+uuid+"/locations", body, nil)
}

// CreateFile catalogs a brand-new record — used by the Cataloger to
// register the archive ZIP itself (§4.7: "the archive is itself
// catalogued") so the Locator can later fetch it by uuid.
func (c *Client) CreateFile(ctx context.Context, rec map[string]any) (string, error) {
	var out struct {
		UUID string `json:"uuid"`
	}
	if err := c.doPost(ctx, "/api/files", rec, &out); err != nil {
		return "", err
	}
	return out.UUID, nil
}

func (c *Client) doPost(ctx context.Context, path string, body any, out any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch bearer token")
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}
	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.SetContentType("application/json")
	req.SetBody(b)
	if err := c.HTTP.Do(req, resp); err != nil {
		return errors.Wrap(err, "http transport")
	}
	if resp.StatusCode() >= 400 {
		return errors.Errorf("file-catalog POST %s: status %d: %s", path, resp.StatusCode(), resp.Body())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrap(err, "unmarshal file-catalog response")
		}
	}
	return nil
}
