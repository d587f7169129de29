// Package picker expands a TransferRequest at ethereal into size-balanced
// Bundles (§4.2).
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package picker

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// FileRef is the minimal projection the Picker needs from the File Catalog
// query in §4.2 step 1: "{uuid, file_size} only".
type FileRef struct {
	UUID string
	Size int64
}

// Bin is one of the packing pass's outputs; it becomes one Bundle plus its
// Metadata rows.
type Bin struct {
	Files []FileRef
	Size  int64
}

// NBins computes §4.2 step 3's bin count:
//
//	n_bins = max(1, max(ceil(T / (S·1.2)), round(T / S)))
//
// which guarantees no bin exceeds 1.2·S on average while minimizing bin
// count.
func NBins(total, ideal int64) int {
	if total <= 0 {
		return 1
	}
	capSize := float64(ideal) * 1.2
	nCeil := int(math.Ceil(float64(total) / capSize))
	nRound := int(math.Round(float64(total) / float64(ideal)))
	n := nCeil
	if nRound > n {
		n = nRound
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pack distributes files into size-bounded bins using a deterministic
// first-fit-decreasing pass (§4.2 step 3): files are sorted largest-first
// and each placed into the first bin with room under the 1.2·ideal cap.
// Every returned bin is non-empty; every file lands in exactly one bin.
func Pack(files []FileRef, ideal int64) ([]Bin, error) {
	if ideal <= 0 {
		return nil, errors.New("ideal bundle size must be positive")
	}
	if len(files) == 0 {
		return nil, nil
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	n := NBins(total, ideal)
	capBytes := int64(float64(ideal) * 1.2)

	sorted := make([]FileRef, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	bins := make([]Bin, n)
	for _, f := range sorted {
		placed := false
		for i := range bins {
			if bins[i].Size == 0 || bins[i].Size+f.Size <= capBytes {
				bins[i].Files = append(bins[i].Files, f)
				bins[i].Size += f.Size
				placed = true
				break
			}
		}
		if !placed {
			// Every pre-allocated bin would exceed the cap (a single file
			// larger than the cap, or pathological sizing); fall back to
			// the least-loaded bin rather than drop the file.
			least := 0
			for i := range bins {
				if bins[i].Size < bins[least].Size {
					least = i
				}
			}
			bins[least].Files = append(bins[least].Files, f)
			bins[least].Size += f.Size
		}
	}

	result := make([]Bin, 0, len(bins))
	for _, b := range bins {
		if len(b.Files) > 0 {
			result = append(result, b)
		}
	}
	return result, nil
}
