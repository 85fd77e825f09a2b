package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rh-orchestrator/api/rest/handlers"
	"rh-orchestrator/config"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
)

// Dependencies are the stores and services the API is built on.
type Dependencies struct {
	Jobs        handlers.JobRunner
	Templates   *repository.TemplateRepository
	Profiles    *repository.ProfileRepository
	Resources   *repository.ResourceRepository
	Settings    *config.SettingsStore
	Remote      runninghub.Options
	DownloadDir string
	ResourceDir string
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, deps Dependencies) {
	jobHandler := handlers.NewJobHandler(deps.Jobs)
	templateHandler := handlers.NewTemplateHandler(deps.Templates)
	profileHandler := handlers.NewProfileHandler(deps.Profiles, deps.Settings, deps.Remote)
	resourceHandler := handlers.NewResourceHandler(deps.Resources, deps.Profiles, deps.Settings, deps.Remote, deps.ResourceDir)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings)
	downloadsHandler := handlers.NewDownloadsHandler(deps.DownloadDir)

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")

	// Template endpoints; fixed paths go before {id}
	api.HandleFunc("/templates/import", templateHandler.ImportTemplates).Methods("POST")
	api.HandleFunc("/templates/export", templateHandler.ExportTemplates).Methods("GET")
	api.HandleFunc("/templates", templateHandler.ListTemplates).Methods("GET")
	api.HandleFunc("/templates", templateHandler.CreateTemplate).Methods("POST")
	api.HandleFunc("/templates/{id}", templateHandler.UpdateTemplate).Methods("PUT")
	api.HandleFunc("/templates/{id}", templateHandler.DeleteTemplate).Methods("DELETE")

	// Profile endpoints
	api.HandleFunc("/profiles/import", profileHandler.ImportProfiles).Methods("POST")
	api.HandleFunc("/profiles/export", profileHandler.ExportProfiles).Methods("GET")
	api.HandleFunc("/profiles", profileHandler.ListProfiles).Methods("GET")
	api.HandleFunc("/profiles/{id}", profileHandler.DeleteProfile).Methods("DELETE")
	api.HandleFunc("/profiles/{id}/user-info", profileHandler.RefreshUserInfo).Methods("POST")

	// Resource endpoints
	api.HandleFunc("/resources/upload", resourceHandler.UploadResource).Methods("POST")
	api.HandleFunc("/resources/import", resourceHandler.ImportResources).Methods("POST")
	api.HandleFunc("/resources/export", resourceHandler.ExportResources).Methods("GET")
	api.HandleFunc("/resources", resourceHandler.ListResources).Methods("GET")
	api.HandleFunc("/resources/{id}", resourceHandler.DeleteResource).Methods("DELETE")

	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods("GET")
	api.HandleFunc("/settings", settingsHandler.UpdateSettings).Methods("PUT")
	api.HandleFunc("/downloads", downloadsHandler.ListDownloads).Methods("GET")

	r.PathPrefix(handlers.DownloadURLPrefix).Handler(
		http.StripPrefix(handlers.DownloadURLPrefix, http.FileServer(http.Dir(deps.DownloadDir)))).Methods("GET", "HEAD")
	r.PathPrefix(handlers.ResourceURLPrefix).Handler(
		http.StripPrefix(handlers.ResourceURLPrefix, http.FileServer(http.Dir(deps.ResourceDir)))).Methods("GET", "HEAD")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
}

// NewHandler builds the instrumented API handler.
func NewHandler(deps Dependencies) http.Handler {
	r := mux.NewRouter()
	SetupRoutes(r, deps)
	return otelhttp.NewHandler(r, "rh-orchestrator")
}
