package handler

import "net/http"

type serviceEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

var serviceIndex = []serviceEntry{
	{Name: "certificates", Path: "/services/certificates/"},
	{Name: "sponsors", Path: "/services/sponsors"},
	{Name: "auth", Path: "/services/auth/me"},
	{Name: "webhooks", Path: "/services/webhooks/healthcheck"},
}

// Services lists the mounted services.
//
// HTTP: GET /services
func Services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": serviceIndex})
}
