package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Reserved metadata keys. The ingestion pipeline owns these; user-supplied
// extras with the same names are dropped during sanitation.
const (
	KeySource    = "source"
	KeyFileMtime = "file_mtime"
	KeyFileHash  = "file_hash"
	KeyIndexedAt = "indexed_at"
	KeyPage      = "page"
)

// Metadata describes where a chunk came from and when it was indexed.
// It serializes to a single flat JSON object so the JSONB containment
// operator can filter on any field, reserved or extra, the same way.
type Metadata struct {
	// Source is the absolute path of the originating file.
	Source string

	// FileMtime is the file's modification time in Unix nanoseconds.
	FileMtime int64

	// FileHash is the hex SHA-256 of the whole file's bytes.
	FileHash string

	// IndexedAt records when the chunk was written to the index.
	IndexedAt time.Time

	// Page is the 1-based page number for paginated formats, 0 otherwise.
	Page int

	// Extra holds caller-supplied fields. Values must already be
	// sanitized (see Sanitize); reserved keys are ignored on marshal.
	Extra map[string]any
}

// MarshalJSON flattens Metadata into one JSON object. Reserved keys always
// win over same-named Extra entries. Page is omitted when zero.
func (m Metadata) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		switch k {
		case KeySource, KeyFileMtime, KeyFileHash, KeyIndexedAt, KeyPage:
			continue
		}
		flat[k] = v
	}
	flat[KeySource] = m.Source
	flat[KeyFileMtime] = m.FileMtime
	flat[KeyFileHash] = m.FileHash
	flat[KeyIndexedAt] = m.IndexedAt.UTC().Format(time.RFC3339Nano)
	if m.Page > 0 {
		flat[KeyPage] = m.Page
	}
	return json.Marshal(flat)
}

// UnmarshalJSON restores Metadata from the flat representation. Unknown
// keys land in Extra. Numbers are decoded as json.Number so the
// nanosecond mtime survives without float64 rounding.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return err
	}

	*m = Metadata{}
	for k, v := range flat {
		switch k {
		case KeySource:
			if s, ok := v.(string); ok {
				m.Source = s
			}
		case KeyFileMtime:
			if n, ok := v.(json.Number); ok {
				if i, err := n.Int64(); err == nil {
					m.FileMtime = i
				}
			}
		case KeyFileHash:
			if s, ok := v.(string); ok {
				m.FileHash = s
			}
		case KeyIndexedAt:
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					m.IndexedAt = t
				}
			}
		case KeyPage:
			if n, ok := v.(json.Number); ok {
				if i, err := n.Int64(); err == nil {
					m.Page = int(i)
				}
			}
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// Sanitize normalizes caller-supplied metadata values so they survive a
// JSON round trip losslessly. Strings and finite numbers pass through;
// NaN and infinities become their string forms (json.Marshal rejects
// them); everything else is stringified. Reserved keys are dropped.
func Sanitize(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		switch k {
		case KeySource, KeyFileMtime, KeyFileHash, KeyIndexedAt, KeyPage:
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	default:
		return fmt.Sprint(x)
	}
}
