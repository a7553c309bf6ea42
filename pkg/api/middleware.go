package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/staffdrive/staffdrive/internal/logger"
)

// observe logs every request and records it in the HTTP metrics under its
// route pattern, so /api/download/{token} is one series and not one per
// token.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		a.metrics.RecordRequestStart()
		defer a.metrics.RecordRequestEnd()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		duration := time.Since(start)
		a.metrics.RecordRequest(route, r.Method, status, duration)
		if r.ContentLength > 0 {
			a.metrics.RecordBytesTransferred("in", r.ContentLength)
		}
		a.metrics.RecordBytesTransferred("out", int64(ww.BytesWritten()))

		logger.Info("%s %s %d %dB %s req=%s remote=%s",
			r.Method, r.URL.Path, status, ww.BytesWritten(), duration,
			chimiddleware.GetReqID(r.Context()), r.RemoteAddr)
	})
}

// requireFS opens the backing store session on first use. Requests arriving
// during the first open wait for it; a failed open is retried by the next
// request.
func (a *API) requireFS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.fs.Initialize(r.Context(), a.creds); err != nil {
			logger.Warn("Backing store unavailable: %v", err)
			writeError(w, http.StatusServiceUnavailable, "storage is not available")
			return
		}
		next.ServeHTTP(w, r)
	})
}
