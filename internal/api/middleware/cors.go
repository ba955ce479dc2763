package middleware

import (
	"slices"

	"github.com/go-chi/cors"
)

// CORSOptions lets browser clients upload videos and follow job streams
// from the given origins. EventSource reconnects send Last-Event-ID, and
// stream-transcribe reports its job in X-Job-Id, so both cross the boundary.
func CORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"Content-Length", "X-Request-Id", "X-Job-Id"},
		// Credentials with a wildcard origin would let any site read job results.
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           300,
	}
}
