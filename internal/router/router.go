package router

import (
	"net/http"

	"github.com/steynovich/ha-loca/internal/core"
)

// RegisterPlugins mounts the registry and every plugin's HTTP surface.
func RegisterPlugins(mux *http.ServeMux, plugins []core.Plugin) {
	core.NewRegistryService(plugins).RegisterHTTP(mux)

	for _, p := range plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
}
