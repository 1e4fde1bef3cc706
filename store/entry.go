package store

import (
	"time"
)

// Entry is the unit of cached state. Value holds the encoded (possibly
// compressed) payload; decoded bytes are produced on demand by Get.
type Entry struct {
	Namespace string
	Key       string

	Value      []byte
	Compressed bool

	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time

	AccessCount uint64

	// Version increases monotonically across sets of the same key,
	// surviving deletion. Consistency audits compare versions across
	// processes.
	Version int64

	// Checksum is a truncated SHA-256 of the decoded value bytes, computed
	// at write time for consistency digests.
	Checksum string

	// Dependencies lists targets ("namespace" or "namespace/key") whose
	// invalidation cascades to this entry.
	Dependencies []string

	// Tags are opaque metadata used by audits and reporting.
	Tags map[string]string

	id uint32
	// charged is the byte count reported to the memory monitor.
	charged int64
	// skippedCompression marks entries stored raw because they were below
	// the compressor's size gate, making them candidates for the pass.
	skippedCompression bool
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// score is the composite eviction value: recency-weighted access frequency.
// Lower scores are evicted first.
func (e *Entry) score(now time.Time) float64 {
	idle := now.Sub(e.LastAccessedAt).Seconds()
	if idle < 0 {
		idle = 0
	}
	return float64(e.AccessCount) / (idle + 1)
}

// overheadBytes approximates the fixed per-entry bookkeeping cost charged to
// the memory monitor on top of the payload.
const overheadBytes = 160

func (e *Entry) footprint() int64 {
	size := int64(len(e.Value)) + int64(len(e.Namespace)+len(e.Key)) + overheadBytes
	for _, d := range e.Dependencies {
		size += int64(len(d))
	}
	for k, v := range e.Tags {
		size += int64(len(k) + len(v))
	}
	return size
}

// SetOptions carry per-write hints.
type SetOptions struct {
	// TTLHint overrides the adaptive TTL when positive.
	TTLHint time.Duration

	// Dependencies are invalidation targets this entry depends on, each
	// either "namespace" or "namespace/key".
	Dependencies []string

	// Tags are attached verbatim to the entry.
	Tags map[string]string
}

// Digest is the per-entry record exchanged during consistency audits.
type Digest struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Version   int64  `json:"version"`
	Checksum  string `json:"checksum"`
}

// Info is a read-only view of entry scheduling state, used by the
// background refresher without disturbing access metadata.
type Info struct {
	ExpiresAt time.Time
	Version   int64
}
