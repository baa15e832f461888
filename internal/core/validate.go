package core

import (
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// FilterPlugins returns the plugins whose id is enabled. With allowAll
// set, every compiled plugin is kept.
func FilterPlugins(plugins []Plugin, enabled map[string]bool, allowAll bool) []Plugin {
	if allowAll {
		return plugins
	}
	var active []Plugin
	for _, plugin := range plugins {
		if enabled[plugin.ID()] {
			active = append(active, plugin)
		}
	}
	return active
}

// ValidateEnabledPlugins rejects enabled ids with no compiled plugin.
func ValidateEnabledPlugins(plugins []Plugin, enabled map[string]bool, allowAll bool) error {
	if allowAll {
		return nil
	}
	compiled := make(map[string]bool, len(plugins))
	for _, plugin := range plugins {
		compiled[plugin.ID()] = true
	}
	for id := range enabled {
		if !compiled[id] {
			return fmt.Errorf("enabled plugin %q is not compiled in", id)
		}
	}
	return nil
}
