// Package trace keeps a bounded in-memory ring of recent HTTP request
// traces for debugging. Traces never leave the process and sensitive
// headers are scrubbed before a trace is stored.
package trace

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for ring capacity and entry age.
const (
	DefaultMaxRecords = 500
	DefaultMaxAge     = 1 * time.Hour
)

// scrubbedHeaders are replaced with a redaction marker before storage.
var scrubbedHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-api-key":     true,
}

// Redacted is the placeholder stored for scrubbed header values.
const Redacted = "[redacted]"

// Trace is one recorded request.
type Trace struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      map[string]string `json:"query,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Status     int               `json:"status"`
	LatencyMS  float64           `json:"latency_ms"`
	RemoteIP   string            `json:"remote_ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	BodySHA256 string            `json:"body_sha256,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Filter selects traces from the ring.
type Filter struct {
	Since      time.Time
	Status     int
	PathPrefix string
	HasError   *bool
}

func (f Filter) matches(t *Trace) bool {
	if !f.Since.IsZero() && t.Timestamp.Before(f.Since) {
		return false
	}
	if f.Status != 0 && t.Status != f.Status {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(t.Path, f.PathPrefix) {
		return false
	}
	if f.HasError != nil && (t.Error != "") != *f.HasError {
		return false
	}
	return true
}

// Ring is a fixed-capacity trace buffer. When full, the oldest entry is
// evicted; entries older than the max age are evicted on sweep.
type Ring struct {
	mu         sync.RWMutex
	entries    []*Trace
	maxRecords int
	maxAge     time.Duration
	now        func() time.Time
}

// NewRing creates a ring. Non-positive arguments use the defaults.
func NewRing(maxRecords int, maxAge time.Duration) *Ring {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Ring{
		entries:    make([]*Trace, 0, maxRecords),
		maxRecords: maxRecords,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// NewID returns a fresh trace identifier.
func NewID() string {
	return "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ScrubHeaders copies headers with sensitive values redacted. Only the
// first value of each header is kept.
func ScrubHeaders(headers map[string][]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		if scrubbedHeaders[strings.ToLower(name)] {
			out[name] = Redacted
		} else {
			out[name] = values[0]
		}
	}
	return out
}

// Append stores a trace, evicting the oldest entry when at capacity.
func (r *Ring) Append(t *Trace) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.maxRecords {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = t
		return
	}
	r.entries = append(r.entries, t)
}

// Get returns a trace by ID.
func (r *Ring) Get(id string) (*Trace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.entries {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// List returns matching traces, newest first, up to limit.
func (r *Ring) List(f Filter, limit int) []*Trace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Trace
	for i := len(r.entries) - 1; i >= 0; i-- {
		t := r.entries[i]
		if !f.matches(t) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of stored traces.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep evicts entries older than the max age and returns how many
// were removed. Wired to the periodic maintenance schedule.
func (r *Ring) Sweep() int {
	cutoff := r.now().Add(-r.maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	removed := 0
	for _, t := range r.entries {
		if t.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	r.entries = kept
	return removed
}
