package api

import (
	"net/http"
	"time"

	"github.com/example/ledger-transfer/internal/security"
)

type requestAudit struct {
	CorrelationID string `json:"cid"`
	Caller        string `json:"caller"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	DurationMS    int64  `json:"duration_ms"`
}

// AuditMiddleware chains one entry per request. Bodies are not recorded; the
// transfer outcome itself is audited by the notifier.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)

			_, _ = a.Append("http.request", requestAudit{
				CorrelationID: security.CorrelationIDFromContext(r.Context()),
				Caller:        security.CallerFromContext(r.Context()),
				Method:        r.Method,
				Path:          r.URL.Path,
				Status:        sw.status,
				DurationMS:    time.Since(start).Milliseconds(),
			})
		})
	}
}
