package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// UploadLimit caps video uploads at maxBytes. A declared Content-Length over
// the cap is refused with 413 before any of the body is read; otherwise
// reads past the cap fail with *http.MaxBytesError for the handler to map.
// Zero or less disables the cap.
func UploadLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Connection", "close")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				json.NewEncoder(w).Encode(map[string]string{
					"error": fmt.Sprintf("file exceeds the upload limit of %d bytes", maxBytes),
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
