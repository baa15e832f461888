package core

import (
	"encoding/json"
	"net/http"
	"sync"
)

// PluginSummary is the registry list entry for one plugin.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

// PluginDescriptor is the full registry record for one plugin.
type PluginDescriptor struct {
	PluginSummary
	Services      []string `json:"services,omitempty"`
	HealthMessage string   `json:"health_message,omitempty"`
	Dashboards    []string `json:"dashboards,omitempty"`
}

// RegistryService provides plugin discovery to clients over HTTP JSON.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// ListPlugins returns summaries for every registered plugin.
func (r *RegistryService) ListPlugins() []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		summaries = append(summaries, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}
	return summaries
}

// DescribePlugin returns the full descriptor for one plugin id.
func (r *RegistryService) DescribePlugin(pluginID string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		descriptor := PluginDescriptor{
			PluginSummary: PluginSummary{
				PluginID:    manifest.PluginID,
				DisplayName: manifest.DisplayName,
				Version:     manifest.Version,
				Status:      string(p.Health()),
			},
			Services:      manifest.Services,
			HealthMessage: p.HealthMessage(),
		}

		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards,
				dashboardPath(manifest.PluginID, d.Name))
		}

		return descriptor, true
	}

	return PluginDescriptor{}, false
}

// RegisterHTTP mounts the registry endpoints on the mux.
func (r *RegistryService) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/plugins", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"plugins": r.ListPlugins()})
	})
	mux.HandleFunc("GET /api/plugins/{id}", func(w http.ResponseWriter, req *http.Request) {
		descriptor, ok := r.DescribePlugin(req.PathValue("id"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, descriptor)
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
