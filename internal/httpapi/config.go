package httpapi

import (
	"time"

	"genied/internal/extract"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// messageTimeout bounds a single message request. Zero means no limit
// beyond server and connection timeouts.
var messageTimeout time.Duration

// SetMessageTimeout sets the per-message timeout (0 disables).
func SetMessageTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	messageTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
}

// fileExtractor serves grounding requests that name a server-side path.
// Nil disables them.
var fileExtractor extract.Extractor

// SetFileExtractor enables path based grounding through x.
func SetFileExtractor(x extract.Extractor) { fileExtractor = x }
