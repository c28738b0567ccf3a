package routes

import (
	"finetune-orchestrator/api/rest/handlers"
	"finetune-orchestrator/core/manager"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, mgr *manager.Manager) {
	jobHandler := handlers.NewJobHandler(mgr)
	eventHandler := handlers.NewEventHandler(mgr.Notifier())

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.CreateJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.EditJob).Methods("PUT")
	api.HandleFunc("/jobs/{id}", jobHandler.DeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/start", jobHandler.StartJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/pause", jobHandler.PauseJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/resume", jobHandler.ResumeJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/stop", jobHandler.StopJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/reset", jobHandler.ResetJob).Methods("POST")

	// Change-notification stream for the UI layer
	api.HandleFunc("/events", eventHandler.Stream).Methods("GET")
}
