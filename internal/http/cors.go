package http

import (
	"net/http"

	"github.com/rs/cors"
)

// DefaultCORSOrigins are the browser origins trusted when none are configured.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"https://tradetrip-mongo-connect.web.app",
}

// CORS answers preflight requests and adds CORS headers for the allowed origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultCORSOrigins
	}
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:       []string{"Content-Type", "Authorization"},
		ExposedHeaders:       []string{RequestIDHeader},
		AllowCredentials:     true,
		OptionsSuccessStatus: http.StatusOK,
	})
	return middleware.Handler
}
