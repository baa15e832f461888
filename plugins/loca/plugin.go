package loca

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	hostconfig "github.com/steynovich/ha-loca/internal/config"
	"github.com/steynovich/ha-loca/internal/core"
)

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the host plugin contract for Loca trackers.
type Plugin struct {
	client    *Client
	poller    *Poller
	service   *Service
	publisher *Publisher

	setupErr      error
	degradedMsg   string
	shutdownGrace time.Duration
}

// NewPlugin constructs a Loca plugin from host config. A nil config
// block means the plugin is not configured. MQTT is optional; a broker
// connection failure degrades the plugin but polling still runs.
func NewPlugin(cfg *hostconfig.LocaConfig, mqttCfg *hostconfig.MQTTConfig) (*Plugin, bool) {
	if cfg == nil {
		return nil, false
	}

	plugin := &Plugin{shutdownGrace: 10 * time.Second}

	runtimeCfg, err := ConfigFromHost(cfg)
	if err != nil {
		plugin.setupErr = err
		return plugin, true
	}

	plugin.client = NewClient(runtimeCfg, nil)
	plugin.poller = NewPoller(plugin.client, runtimeCfg.ScanInterval, nil)
	plugin.service = NewService(plugin.poller)

	if mqttCfg != nil {
		publisherCfg, err := PublisherConfigFromHost(mqttCfg)
		if err == nil {
			plugin.publisher, err = NewPublisher(publisherCfg)
		}
		if err != nil {
			logrus.Errorf("loca: mqtt publisher unavailable: %v", err)
			plugin.degradedMsg = "mqtt publisher unavailable: " + err.Error()
		} else {
			plugin.poller.Subscribe(plugin.publisher.Publish)
		}
	}

	return plugin, true
}

func (p *Plugin) ID() string {
	return "loca"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "loca",
		DisplayName: "Loca",
		Version:     "0.1.0",
		Services:    []string{"/api/loca/devices", "/api/loca/refresh"},
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "loca-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	if p.service != nil {
		p.service.RegisterHTTP(mux)
	}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.poller == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.poller)}
}

func (p *Plugin) Health() core.HealthStatus {
	if p.setupErr != nil {
		return core.HealthError
	}
	switch p.poller.State() {
	case StateAuthFailed, StateTransientFailed:
		return core.HealthDegraded
	}
	if p.degradedMsg != "" {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (p *Plugin) HealthMessage() string {
	if p.setupErr != nil {
		return p.setupErr.Error()
	}
	if err := p.poller.LastError(); err != nil {
		return err.Error()
	}
	return p.degradedMsg
}

// Run drives the poll loop until stop closes, then logs out and
// releases the session.
func (p *Plugin) Run(stop <-chan struct{}) {
	if p.poller == nil {
		return
	}

	p.poller.Run(stop)

	ctx, cancel := context.WithTimeout(context.Background(), p.shutdownGrace)
	defer cancel()
	if p.publisher != nil {
		p.publisher.Close()
	}
	p.client.Close(ctx)
}
