// Package bundler materializes a Bundle's files into one ZIP64 archive and
// records its checksum (§4.3).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package bundler

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const ManifestVersion = 3

// Component is the Bundler worker (§4.3).
type Component struct {
	DB             *ltadb.Client
	FC             *fcatalog.Client
	Claimant       string
	SourceSite     string
	DestSite       string
	WorkboxDir     string
	OutboxDir      string
	WarehouseRoot  string
	MetadataPage   int
}

func New(db *ltadb.Client, fc *fcatalog.Client, claimant, sourceSite, destSite, workbox, outbox, warehouseRoot string) *Component {
	return &Component{
		DB: db, FC: fc, Claimant: claimant,
		SourceSite: sourceSite, DestSite: destSite,
		WorkboxDir: workbox, OutboxDir: outbox, WarehouseRoot: warehouseRoot,
		MetadataPage: 1000,
	}
}

func (c *Component) Name() string { return "bundler" }

var _ worker.Runner = (*Component)(nil)

func (c *Component) DoWorkClaim(ctx context.Context) worker.Outcome {
	b, err := c.DB.PopBundle(ctx, c.SourceSite, c.DestSite, lta.BundleSpecified, c.Claimant)
	if errors.Is(err, ltadb.ErrNoWork) {
		return worker.OutcomeEmpty
	}
	if err != nil {
		nlog.Errorf("bundler pop: %v", err)
		return worker.OutcomeEmpty
	}

	if err := c.build(ctx, b); err != nil {
		nlog.Errorf("bundler: quarantining %s: %v", b.UUID, err)
		if qerr := c.DB.QuarantineBundle(ctx, b, c.Claimant, err.Error()); qerr != nil {
			nlog.Errorf("bundler: quarantine of %s also failed: %v", b.UUID, qerr)
		}
		return worker.OutcomeQuarantined
	}
	return worker.OutcomeProcessed
}

func (c *Component) zipPath(uuid string) string      { return filepath.Join(c.WorkboxDir, uuid+".zip") }
func (c *Component) sidecarPath(uuid string) string  { return filepath.Join(c.WorkboxDir, uuid+".metadata.ndjson") }
func (c *Component) outboxZipPath(uuid string) string { return filepath.Join(c.OutboxDir, uuid+".zip") }

type manifestHeader struct {
	UUID            string    `json:"uuid"`
	Component       string    `json:"component"`
	Version         int       `json:"version"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	FileCount       int       `json:"file_count"`
}

// build implements §4.3's steps 1-7.
func (c *Component) build(ctx context.Context, b *lta.Bundle) error {
	zipPath := c.zipPath(b.UUID)
	sidecarPath := c.sidecarPath(b.UUID)

	// step 1: crash-recovery reset.
	_ = os.Remove(zipPath)
	_ = os.Remove(sidecarPath)

	records, err := c.fetchRecords(ctx, b)
	if err != nil {
		return errors.Wrap(err, "resolve metadata records")
	}
	if len(records) != b.FileCount {
		reason := fmt.Sprintf("metadata row count %d does not match bundle file_count %d", len(records), b.FileCount)
		return worker.NewWorkError(worker.ErrProtocol, reason, nil)
	}

	if err := c.writeManifest(sidecarPath, b, records); err != nil {
		return errors.Wrap(err, "write manifest sidecar")
	}

	written, err := c.writeArchive(zipPath, sidecarPath, b, records)
	if err != nil {
		return errors.Wrap(err, "write archive")
	}
	// step 4: verification.
	if written != b.FileCount {
		reason := fmt.Sprintf("wrote %d file entries, expected %d", written, b.FileCount)
		return worker.NewWorkError(worker.ErrDataIntegrity, reason, nil)
	}

	checksum, size, err := c.checksumAndSize(zipPath)
	if err != nil {
		return errors.Wrap(err, "checksum archive")
	}

	finalPath := zipPath
	if c.OutboxDir != "" && c.OutboxDir != c.WorkboxDir {
		finalPath = c.outboxZipPath(b.UUID)
		if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
			return errors.Wrap(err, "mkdir outbox")
		}
		if err := os.Rename(zipPath, finalPath); err != nil {
			return errors.Wrap(err, "move archive to outbox")
		}
	}
	_ = os.Remove(sidecarPath)

	return c.DB.PatchBundle(ctx, b.UUID, map[string]any{
		"status":      lta.BundleCreated,
		"size":        size,
		"checksum":    checksum,
		"bundle_path": finalPath,
		"verified":    false,
		"claimant":    "",
		"reason":      "",
	})
}

// fetchRecords pages Metadata rows (§4.3 step 2) and resolves each
// file_catalog_uuid against the File Catalog, preserving page order.
func (c *Component) fetchRecords(ctx context.Context, b *lta.Bundle) ([]fcatalog.File, error) {
	var records []fcatalog.File
	err := c.DB.AllMetadata(ctx, b.UUID, c.MetadataPage, func(page []lta.Metadata) error {
		for _, m := range page {
			rec, err := c.FC.GetFile(ctx, m.FileCatalogUUID)
			if err != nil {
				return errors.Wrapf(err, "fetch file catalog record %s", m.FileCatalogUUID)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (c *Component) writeManifest(sidecarPath string, b *lta.Bundle, records []fcatalog.File) error {
	f, err := os.Create(sidecarPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	header := manifestHeader{
		UUID: b.UUID, Component: "bundler", Version: ManifestVersion,
		CreateTimestamp: time.Now().UTC(), FileCount: len(records),
	}
	if err := writeJSONLine(w, header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeJSONLine(w, rec); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// writeArchive streams the ZIP64 archive: the sidecar first, then each
// warehouse file in catalog-return order, store-only (§4.3 step 3).
func (c *Component) writeArchive(zipPath, sidecarPath string, b *lta.Bundle, records []fcatalog.File) (int, error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	if err := copyStored(zw, filepath.Base(sidecarPath), sidecarPath); err != nil {
		return 0, errors.Wrap(err, "add manifest entry")
	}

	written := 0
	for _, rec := range records {
		logicalName, _ := rec["logical_name"].(string)
		rel := cos.RelPath(logicalName, b.Path)
		src := logicalName
		if c.WarehouseRoot != "" {
			src = filepath.Join(c.WarehouseRoot, rel)
		}
		if err := copyStored(zw, rel, src); err != nil {
			return written, errors.Wrapf(err, "add entry %s", rel)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, err
	}
	return written, nil
}

func copyStored(zw *zip.Writer, name, srcPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	buf := make([]byte, cos.ReadBufSize)
	_, err = io.CopyBuffer(w, in, buf)
	return err
}

// checksumAndSize computes adler32+sha512 over the finished ZIP off the
// calling goroutine (§5, §9 "CPU-bound hashing is offloaded off the loop"),
// returning once both the size stat and checksum pass complete.
func (c *Component) checksumAndSize(zipPath string) (cos.Checksum, int64, error) {
	info, err := os.Stat(zipPath)
	if err != nil {
		return cos.Checksum{}, 0, err
	}
	var checksum cos.Checksum
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		f, err := os.Open(zipPath)
		if err != nil {
			return err
		}
		defer f.Close()
		checksum, err = cos.StreamChecksums(f)
		return err
	})
	if err := g.Wait(); err != nil {
		return cos.Checksum{}, 0, err
	}
	return checksum, info.Size(), nil
}
