package routers

import (
	"net/http"

	"stake-group/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the group
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {
	r.Use(h.Instrument)

	// Answers claims, staked, admin, total_weight, list_members, member and hooks queries
	r.HandleFunc("/query", h.Query).Methods("POST")

	// Runs bond, unbond, claim, update_admin, add_hook and remove_hook
	r.Handle("/execute", h.Limiter.Limit(http.HandlerFunc(h.Execute))).Methods("POST")

	// Tokens released by claims
	r.HandleFunc("/bank/{address}", h.GetBalance).Methods("GET")

	// Current block height and time
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler()).Methods("GET")
	}
}
