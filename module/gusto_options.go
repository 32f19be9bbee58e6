package module

import (
	"encoding/json"
	"net/http"

	"github.com/GoCodeAlone/modular"
)

// GustoOptionsRoute is the load-options endpoint of the resource node.
const GustoOptionsRoute = "GET /api/gusto/{credential}/options/companies"

// GustoOptionsHandler serves dropdown options for the step.gusto editor.
type GustoOptionsHandler struct {
	app modular.Application
}

// NewGustoOptionsHandler creates a handler resolving credentials from app.
func NewGustoOptionsHandler(app modular.Application) *GustoOptionsHandler {
	return &GustoOptionsHandler{app: app}
}

// RegisterRoutes mounts the handler on mux.
func (h *GustoOptionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(GustoOptionsRoute, h)
}

func (h *GustoOptionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("credential")
	cred, err := serviceAs[GustoCredentialSource](h.app, name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "unknown credential "+name)
		return
	}
	options, err := GetCompanies(r.Context(), cred)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
