// Package webui serves human-readable debug pages over the current cache
// generation. The pages are disabled in production.
package webui

import (
	"net/http"

	"overlay.onebusaway.org/internal/app"
)

type WebUI struct {
	*app.Application
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/", webUI.debugIndexHandler)
}
