package middleware

import "net/http"

const defaultMaxRequestBodyBytes int64 = 4 << 20 // 4MiB

// BodyLimitMiddleware caps request bodies, applying http.MaxBytesReader so
// downstream JSON decoders cannot be forced to read past the limit.
type BodyLimitMiddleware struct {
	maxBytes int64
}

// NewBodyLimitMiddleware constructs a limiter; maxBytes <= 0 applies the
// default.
func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxBytes {
			WriteErrorResponse(w, http.StatusRequestEntityTooLarge, "VAL_3004", "request body too large",
				map[string]interface{}{"limit_bytes": m.maxBytes})
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
