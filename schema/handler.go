package schema

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes exposes the registry on the given mux:
//
//	GET /api/schemas         all schemas
//	GET /api/schemas/{type}  one schema
func RegisterRoutes(mux *http.ServeMux, r *ModuleSchemaRegistry) {
	mux.HandleFunc("GET /api/schemas", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.All())
	})
	mux.HandleFunc("GET /api/schemas/{type}", func(w http.ResponseWriter, req *http.Request) {
		s := r.Get(req.PathValue("type"))
		if s == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown type"})
			return
		}
		writeJSON(w, http.StatusOK, s)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
