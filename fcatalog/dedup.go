package fcatalog

import (
	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Dedup short-circuits duplicate File-Catalog uuids seen across paginated
// query results. The File Catalog's pagination contract does not guarantee
// disjoint pages under concurrent writes (a file inserted between two page
// fetches can shift the whole offset window), so Picker and Locator must
// tolerate — and discard — repeats. The cuckoo filter is a cheap
// probabilistic short-circuit ahead of the authoritative map lookup, which
// is what actually decides membership; false positives from the filter
// just fall through to the map and cost nothing beyond a wasted hash check.
type Dedup struct {
	filter *cuckoo.Filter
	seen   map[string]struct{}
}

func NewDedup(expectedCount uint) *Dedup {
	if expectedCount == 0 {
		expectedCount = 1024
	}
	return &Dedup{
		filter: cuckoo.NewFilter(expectedCount),
		seen:   make(map[string]struct{}, expectedCount),
	}
}

// Seen marks uuid and reports whether it had already been seen.
func (d *Dedup) Seen(uuid string) bool {
	key := []byte(uuid)
	h := xxhash.Checksum64(key)
	hk := uint64ToBytes(h)
	if !d.filter.Lookup(hk) {
		d.filter.InsertUnique(hk)
		d.seen[uuid] = struct{}{}
		return false
	}
	if _, ok := d.seen[uuid]; ok {
		return true
	}
	// cuckoo filter false positive: not actually seen before.
	d.filter.InsertUnique(hk)
	d.seen[uuid] = struct{}{}
	return false
}

func (d *Dedup) Len() int { return len(d.seen) }

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
