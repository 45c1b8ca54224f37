package router

import (
	"net/http"

	"github.com/prismstudio/backend/internal/auth"
	"github.com/prismstudio/backend/internal/jobs"
	"github.com/prismstudio/backend/internal/ledger"
)

// New returns the API handler. authMW wraps every authenticated route with
// bearer-token validation.
func New(authHandler *auth.Handler, jobsHandler *jobs.Handler, ledgerHandler *ledger.Handler, authMW func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.Handle("POST /api/v1/jobs", authMW(http.HandlerFunc(jobsHandler.CreateJob)))
	mux.Handle("GET /api/v1/jobs", authMW(http.HandlerFunc(jobsHandler.ListJobs)))
	mux.Handle("GET /api/v1/jobs/{id}", authMW(http.HandlerFunc(jobsHandler.GetJob)))
	mux.Handle("GET /api/v1/jobs/{id}/asset", authMW(http.HandlerFunc(jobsHandler.GetJobAsset)))

	mux.Handle("GET /api/v1/workspace/balance", authMW(http.HandlerFunc(ledgerHandler.GetBalance)))
	mux.Handle("GET /api/v1/ledger", authMW(http.HandlerFunc(ledgerHandler.ListLedger)))

	return mux
}
