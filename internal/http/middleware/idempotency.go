package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/owlby/owlby-backend/internal/http/response"
	"github.com/owlby/owlby-backend/internal/service"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Idempotency replays the stored response when a client retries an
// unsafe request with the same Idempotency-Key. Requests without the
// header pass through untouched.
func Idempotency(store service.IdempotencyStore, scope string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" || len(key) > 128 {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r.Method, r.URL.Path, body)

			result, err := store.Begin(r.Context(), scope, key, fingerprint, ttl)
			if err != nil {
				// The store being down must not block sign-ups.
				next.ServeHTTP(w, r)
				return
			}
			switch result.State {
			case service.IdempotencyStateReplay:
				response.Raw(w, result.Cached.StatusCode, result.Cached.ContentType, result.Cached.Body)
				return
			case service.IdempotencyStateConflict:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key reused with a different request", nil)
				return
			case service.IdempotencyStateInProgress:
				w.Header().Set("Retry-After", "1")
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "request with this idempotency key is still processing", nil)
				return
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var buf bytes.Buffer
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			_ = store.Complete(r.Context(), scope, key, fingerprint, service.CachedHTTPResponse{
				StatusCode:  ww.Status(),
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}, ttl)
		})
	}
}

func requestFingerprint(method, path string, body []byte) string {
	sum := sha256.Sum256(append([]byte(method+" "+path+"\n"), body...))
	return hex.EncodeToString(sum[:])
}
