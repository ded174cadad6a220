package httpserver

import (
	"log"
	"net/http"

	"github.com/coachcall/partner-api/internal/http/handlers"
	"github.com/coachcall/partner-api/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	PartnerAPIKeys map[string]string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/jobs", deps.API.CreateJob)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)

	// Rate limiting sits inside auth so limits key on the partner ref.
	handler := http.Handler(mux)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.Auth(deps.PartnerAPIKeys)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
