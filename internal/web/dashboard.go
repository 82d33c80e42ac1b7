// Package web serves the operator dashboard, a single embedded HTML page
// that talks to the JSON API and the websocket event stream.
package web

import (
	_ "embed"
	"net/http"

	"go.uber.org/zap"
)

//go:embed dashboard.html
var dashboardHTML []byte

// Dashboard returns the handler for the operator dashboard page.
func Dashboard(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(dashboardHTML); err != nil {
			logger.Debug("Failed to write dashboard page", zap.Error(err))
		}
	}
}
