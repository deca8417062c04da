package lokiclient

import "strconv"

// QueryStats describes the estimated or measured cost of a query. Any field
// may be nil when the backend did not report it.
type QueryStats struct {
	BytesProcessed *uint64 `json:"bytes_processed"`
	Streams        *uint64 `json:"streams"`
	Chunks         *uint64 `json:"chunks"`
	Entries        *uint64 `json:"entries"`
	Raw            any     `json:"raw"`
}

// StatsFromValue extracts the well-known counters from an index stats
// payload. Loki has renamed these fields across versions, so each counter is
// looked up under every spelling it has used.
func StatsFromValue(value any) QueryStats {
	return QueryStats{
		BytesProcessed: extractUint64(value, "bytes", "bytesProcessed", "bytes_processed"),
		Streams:        extractUint64(value, "streams", "streamCount", "stream_count"),
		Chunks:         extractUint64(value, "chunks", "chunkCount", "chunk_count"),
		Entries:        extractUint64(value, "entries", "entryCount", "entry_count"),
		Raw:            value,
	}
}

// Merge fills in counters the receiver reports as missing or zero from a
// fallback measurement. Non-zero primary counters always win.
func (s QueryStats) Merge(fallback QueryStats) QueryStats {
	raw := s.Raw
	if raw == nil {
		raw = fallback.Raw
	}

	return QueryStats{
		BytesProcessed: pickCounter(s.BytesProcessed, fallback.BytesProcessed),
		Streams:        pickCounter(s.Streams, fallback.Streams),
		Chunks:         pickCounter(s.Chunks, fallback.Chunks),
		Entries:        pickCounter(s.Entries, fallback.Entries),
		Raw:            raw,
	}
}

func pickCounter(primary, fallback *uint64) *uint64 {
	if primary != nil && *primary > 0 {
		return primary
	}
	return fallback
}

// Health is the aggregated health report for the Loki backend.
type Health struct {
	Healthy    bool   `json:"healthy"`
	Message    string `json:"message,omitempty"`
	BuildInfo  any    `json:"build_info,omitempty"`
	RingStatus any    `json:"ring_status,omitempty"`
}

func extractUint64(value any, keys ...string) *uint64 {
	object, ok := value.(map[string]any)
	if !ok {
		return nil
	}

	for _, key := range keys {
		found, ok := object[key]
		if !ok {
			continue
		}
		if number, ok := parseUint64(found); ok {
			return &number
		}
	}

	return nil
}

func parseUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
