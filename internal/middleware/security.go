package middleware

import "net/http"

// SecurityHeaders sets response headers that keep token responses out of
// caches and stop browsers from sniffing or framing them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
