package loca

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherMetrics(t *testing.T, collector prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))
	families, err := registry.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName
}

func gaugeValue(t *testing.T, families map[string]*dto.MetricFamily, name, deviceID string) float64 {
	t.Helper()
	family, ok := families[name]
	require.True(t, ok, "metric %s not gathered", name)
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "device_id" && label.GetValue() == deviceID {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s has no series for device %s", name, deviceID)
	return 0
}

func TestMetricsCollector(t *testing.T) {
	server := newPollServer(t)
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	poller := NewPoller(client, time.Minute, nil)
	collector := NewMetricsCollector(poller)
	ctx := context.Background()

	require.NoError(t, poller.runCycle(ctx))
	families := gatherMetrics(t, collector)

	assert.Equal(t, float64(85), gaugeValue(t, families, "haloca_device_battery_percent", "12345"))
	assert.Equal(t, float64(1640995200), gaugeValue(t, families, "haloca_device_last_seen_timestamp_seconds", "12345"))
	assert.Equal(t, float64(1), families["haloca_devices"].GetMetric()[0].GetGauge().GetValue())
	assert.NotZero(t, families["haloca_poll_last_success_timestamp_seconds"].GetMetric()[0].GetGauge().GetValue())

	cycles, ok := families["haloca_poll_cycles_total"]
	require.True(t, ok)
	require.Len(t, cycles.GetMetric(), 1)
	assert.Equal(t, float64(1), cycles.GetMetric()[0].GetCounter().GetValue())
}

func TestMetricsCollectorFollowsGenerations(t *testing.T) {
	server := newPollServer(t)
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	poller := NewPoller(client, time.Minute, nil)
	collector := NewMetricsCollector(poller)
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))

	require.NoError(t, poller.runCycle(ctx))
	_, err := registry.Gather()
	require.NoError(t, err)

	// The next snapshot drops the old tracker; its gauge series must
	// not survive the generation change.
	server.setStatus(`{"StatusList":[{"Asset":{"id":67890,"label":"Boat"},"History":{"charge":40}}]}`)
	require.NoError(t, poller.runCycle(ctx))

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "haloca_device_battery_percent" {
			continue
		}
		require.Len(t, family.GetMetric(), 1)
		for _, label := range family.GetMetric()[0].GetLabel() {
			if label.GetName() == "device_id" {
				assert.Equal(t, "67890", label.GetValue())
			}
		}
	}
}
