package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// CORSConfig defines CORS configuration
type CORSConfig struct {
	// AllowedOrigins is a list of origins that are allowed. ["*"] allows any
	// origin; entries such as "https://*.example.com" match by pattern.
	AllowedOrigins []string

	// AllowedMethods is a list of methods the client is allowed to use
	AllowedMethods []string

	// AllowedHeaders is a list of headers the client is allowed to use
	AllowedHeaders []string

	// ExposedHeaders indicates which headers are safe to expose to the API
	ExposedHeaders []string

	// MaxAge indicates how long the results of a preflight request can be cached (in seconds)
	MaxAge int
}

// DefaultCORSConfig returns the CORS configuration for a read-mostly API
func DefaultCORSConfig(origins []string) *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         600,
	}
}

// NewCORS creates a new CORS middleware
func NewCORS(config *CORSConfig, logger *zap.Logger) *cors.Cors {
	if config == nil {
		config = DefaultCORSConfig([]string{"*"})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := sanitizeOrigins(config.AllowedOrigins, logger)
	options := cors.Options{
		AllowedMethods: config.AllowedMethods,
		AllowedHeaders: config.AllowedHeaders,
		ExposedHeaders: config.ExposedHeaders,
		MaxAge:         config.MaxAge,
	}

	needsCustomValidator := false
	for _, origin := range origins {
		if strings.Contains(origin, "*") && origin != "*" {
			needsCustomValidator = true
			break
		}
	}
	if needsCustomValidator {
		options.AllowOriginFunc = createOriginValidator(origins)
	} else {
		options.AllowedOrigins = origins
	}

	return cors.New(options)
}

// createOriginValidator creates a custom origin validation function
func createOriginValidator(origins []string) func(origin string) bool {
	allowedOrigins := make(map[string]bool)
	var allowedPatterns [][2]string

	for _, origin := range origins {
		if prefix, suffix, ok := strings.Cut(origin, "*"); ok {
			allowedPatterns = append(allowedPatterns, [2]string{prefix, suffix})
		} else {
			allowedOrigins[origin] = true
		}
	}

	return func(origin string) bool {
		if allowedOrigins[origin] {
			return true
		}
		for _, p := range allowedPatterns {
			if len(origin) > len(p[0])+len(p[1]) && strings.HasPrefix(origin, p[0]) && strings.HasSuffix(origin, p[1]) {
				return true
			}
		}
		return false
	}
}

// sanitizeOrigins validates and sanitizes origin URLs
func sanitizeOrigins(origins []string, logger *zap.Logger) []string {
	sanitized := []string{}

	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return []string{"*"}
		}

		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			logger.Warn("Invalid CORS origin format, skipping", zap.String("origin", origin))
			continue
		}
		u, err := url.Parse(origin)
		if err != nil {
			logger.Warn("Invalid CORS origin URL, skipping", zap.String("origin", origin), zap.Error(err))
			continue
		}
		sanitized = append(sanitized, u.Scheme+"://"+u.Host)
	}

	return sanitized
}
