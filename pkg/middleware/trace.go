package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/trace"
)

// maxTracedBody bounds how much request body is read for hashing.
const maxTracedBody = 1 << 20

// statusRecorder captures the response status for the trace.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// traceInfo is mutable per-request state shared with inner middleware:
// the auth layer fills in the session outcome after the trace record is
// created but before it is appended.
type traceInfo struct {
	sessionID string
	authError string
}

type traceInfoKey struct{}

func recordAuthOutcome(ctx context.Context, sessionID string, err error) {
	info, ok := ctx.Value(traceInfoKey{}).(*traceInfo)
	if !ok {
		return
	}
	info.sessionID = sessionID
	if err != nil {
		info.authError = err.Error()
	}
}

// Trace records every request into the ring with scrubbed headers and
// a body content hash.
func Trace(ring *trace.Ring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			bodyHash := ""
			if r.Body != nil && r.Body != http.NoBody {
				data, err := io.ReadAll(io.LimitReader(r.Body, maxTracedBody))
				if err == nil {
					sum := sha256.Sum256(data)
					bodyHash = hex.EncodeToString(sum[:])
					r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
				}
			}

			traceID := trace.NewID()
			info := &traceInfo{}
			ctx := context.WithValue(r.Context(), traceInfoKey{}, info)
			ctx = observability.WithRequestID(ctx, traceID)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			query := make(map[string]string)
			for name, values := range r.URL.Query() {
				if len(values) > 0 {
					query[name] = values[0]
				}
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			ring.Append(&trace.Trace{
				ID:         traceID,
				Method:     r.Method,
				Path:       r.URL.Path,
				Query:      query,
				Headers:    trace.ScrubHeaders(r.Header),
				Status:     status,
				LatencyMS:  float64(time.Since(started).Microseconds()) / 1000.0,
				RemoteIP:   host,
				UserAgent:  r.UserAgent(),
				BodySHA256: bodyHash,
				SessionID:  info.sessionID,
				Error:      info.authError,
			})
		})
	}
}
