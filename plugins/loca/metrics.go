package loca

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes per-device tracker metrics and poll cycle
// outcomes. Gauge state is rebuilt only when the snapshot generation
// moves, never based on map identity.
type MetricsCollector struct {
	poller *Poller

	battery     *prometheus.GaugeVec
	speed       *prometheus.GaugeVec
	satellites  *prometheus.GaugeVec
	signal      *prometheus.GaugeVec
	accuracy    *prometheus.GaugeVec
	lastSeen    *prometheus.GaugeVec
	deviceCount prometheus.Gauge
	lastSuccess prometheus.Gauge

	cyclesDesc *prometheus.Desc

	mu         sync.Mutex
	generation uint64
	applied    bool
}

func NewMetricsCollector(poller *Poller) *MetricsCollector {
	labels := []string{"device_id", "name"}
	return &MetricsCollector{
		poller: poller,
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_battery_percent",
			Help: "Battery level per device (percent)",
		}, labels),
		speed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_speed_kmh",
			Help: "Last reported speed per device (km/h)",
		}, labels),
		satellites: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_satellites",
			Help: "GPS satellites in view per device",
		}, labels),
		signal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_signal_strength",
			Help: "GSM signal strength per device",
		}, labels),
		accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_accuracy_meters",
			Help: "Location accuracy per device (meters)",
		}, labels),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haloca_device_last_seen_timestamp_seconds",
			Help: "Last fix timestamp per device (epoch seconds)",
		}, labels),
		deviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "haloca_devices",
			Help: "Devices in the current snapshot",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "haloca_poll_last_success_timestamp_seconds",
			Help: "Last successful poll cycle timestamp (epoch seconds)",
		}),
		cyclesDesc: prometheus.NewDesc(
			"haloca_poll_cycles_total",
			"Poll cycles by terminal state",
			[]string{"state"}, nil),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.battery.Describe(ch)
	c.speed.Describe(ch)
	c.satellites.Describe(ch)
	c.signal.Describe(ch)
	c.accuracy.Describe(ch)
	c.lastSeen.Describe(ch)
	c.deviceCount.Describe(ch)
	c.lastSuccess.Describe(ch)
	ch <- c.cyclesDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	generation := c.poller.Generation()
	if !c.applied || generation != c.generation {
		c.applySnapshot(c.poller.Snapshot())
		c.generation = generation
		c.applied = true
	}
	c.mu.Unlock()

	if last := c.poller.LastSuccess(); !last.IsZero() {
		c.lastSuccess.Set(float64(last.Unix()))
	}

	c.battery.Collect(ch)
	c.speed.Collect(ch)
	c.satellites.Collect(ch)
	c.signal.Collect(ch)
	c.accuracy.Collect(ch)
	c.lastSeen.Collect(ch)
	c.deviceCount.Collect(ch)
	c.lastSuccess.Collect(ch)

	for state, count := range c.poller.CycleCounts() {
		ch <- prometheus.MustNewConstMetric(c.cyclesDesc,
			prometheus.CounterValue, float64(count), string(state))
	}
}

func (c *MetricsCollector) applySnapshot(devices map[string]Device) {
	c.battery.Reset()
	c.speed.Reset()
	c.satellites.Reset()
	c.signal.Reset()
	c.accuracy.Reset()
	c.lastSeen.Reset()

	for id, device := range devices {
		if id == "" {
			continue
		}
		labels := prometheus.Labels{"device_id": id, "name": device.Name}
		if device.BatteryLevel != nil {
			c.battery.With(labels).Set(float64(*device.BatteryLevel))
		}
		c.speed.With(labels).Set(device.Speed)
		c.satellites.With(labels).Set(float64(device.Satellites))
		c.signal.With(labels).Set(float64(device.SignalStrength))
		c.accuracy.With(labels).Set(float64(device.GPSAccuracy))
		if device.LastSeen != nil {
			c.lastSeen.With(labels).Set(float64(device.LastSeen.Unix()))
		}
	}

	c.deviceCount.Set(float64(len(devices)))
}
