// Package cos ("common os") holds small stateless helpers shared across
// every LTA component: checksumming, byte-size parsing, path relativization.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package cos

import (
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"crypto/sha512"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const ReadBufSize = 128 * 1024

// Checksum is the dual checksum recorded on a Bundle.
type Checksum struct {
	Adler32 string `json:"adler32"`
	SHA512  string `json:"sha512"`
}

func (c Checksum) Empty() bool { return c.Adler32 == "" && c.SHA512 == "" }

// StreamChecksums computes adler32 and sha512 over r in a single pass,
// reading in ReadBufSize chunks so callers never need the whole file resident.
func StreamChecksums(r io.Reader) (Checksum, error) {
	var (
		a32 hash.Hash32 = adler32.New()
		s5  hash.Hash   = sha512.New()
		mw             = io.MultiWriter(a32, s5)
		buf            = make([]byte, ReadBufSize)
	)
	if _, err := io.CopyBuffer(mw, r, buf); err != nil {
		return Checksum{}, errors.Wrap(err, "stream checksums")
	}
	return Checksum{
		Adler32: hex.EncodeToString(a32.Sum(nil)),
		SHA512:  hex.EncodeToString(s5.Sum(nil)),
	}, nil
}

// SHA512Stream computes just the SHA-512 hex digest, used by the Source-Move
// Verifier which only needs to reconfirm the one hash.
func SHA512Stream(r io.Reader) (string, error) {
	h := sha512.New()
	buf := make([]byte, ReadBufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", errors.Wrap(err, "sha512 stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseByteSize parses values like "100GiB", "1e11", or a bare integer of
// bytes, as used by IDEAL_BUNDLE_SIZE.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty byte size")
	}
	mult := int64(1)
	upper := strings.ToUpper(s)
	suffixes := []struct {
		suf  string
		mult int64
	}{
		{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	}
	for _, sfx := range suffixes {
		if strings.HasSuffix(upper, sfx.suf) {
			mult = sfx.mult
			s = s[:len(s)-len(sfx.suf)]
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse byte size %q", s)
	}
	return int64(f * float64(mult)), nil
}

// RelPath computes the archive entry name for a logical_name relative to a
// TransferRequest's path prefix, always using forward slashes. A
// logical_name that does not start with prefix falls back to its basename.
func RelPath(logicalName, prefix string) string {
	if !strings.HasPrefix(logicalName, prefix) {
		return filenameOnly(logicalName)
	}
	rel := strings.TrimPrefix(logicalName, prefix)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return filenameOnly(logicalName)
	}
	return rel
}

func filenameOnly(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// ShortErr renders an operator-readable "BY:<worker> REASON:<text>" string,
// the canonical quarantine reason format from §4.1/§7.
func ShortErr(worker, text string) string {
	return fmt.Sprintf("BY:%s REASON:%s", worker, text)
}
