package loca

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// PublisherConfig configures the MQTT state/discovery publisher.
type PublisherConfig struct {
	Host            string
	Port            int
	TLS             bool
	Username        string
	Password        string
	DiscoveryPrefix string
	TopicPrefix     string
}

// Publisher mirrors device snapshots onto an MQTT broker using Home
// Assistant discovery conventions: one retained config per device, plus
// state and JSON attribute topics, under a shared availability topic.
type Publisher struct {
	client          mqtt.Client
	discoveryPrefix string
	topicPrefix     string

	mu         sync.Mutex
	announced  map[string]bool
	generation uint64
	published  bool
}

// NewPublisher connects to the broker. The connection auto-reconnects
// and re-announces availability on each connect.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	p := &Publisher{
		discoveryPrefix: cfg.DiscoveryPrefix,
		topicPrefix:     cfg.TopicPrefix,
		announced:       make(map[string]bool),
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(p.availabilityTopic(), "offline", 0, true)
	opts.OnConnect = func(client mqtt.Client) {
		client.Publish(p.availabilityTopic(), 0, true, "online")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p.client = client
	return p, nil
}

func randomClientID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	return "haloca-" + base64.RawURLEncoding.EncodeToString(buf)
}

func (p *Publisher) availabilityTopic() string {
	return p.topicPrefix + "/availability"
}

func (p *Publisher) stateTopic(deviceID string) string {
	return p.topicPrefix + "/" + deviceID + "/state"
}

func (p *Publisher) attributesTopic(deviceID string) string {
	return p.topicPrefix + "/" + deviceID + "/attributes"
}

func (p *Publisher) configTopic(deviceID string) string {
	return p.discoveryPrefix + "/device_tracker/" + p.topicPrefix + "_" + deviceID + "/config"
}

// Publish mirrors one snapshot to the broker. Repeated calls with the
// same generation are no-ops; devices absent from the new snapshot get
// their retained discovery config cleared.
func (p *Publisher) Publish(devices map[string]Device, generation uint64) {
	p.mu.Lock()
	if p.published && generation == p.generation {
		p.mu.Unlock()
		return
	}
	p.generation = generation
	p.published = true

	var removed []string
	for id := range p.announced {
		if _, kept := devices[id]; !kept {
			removed = append(removed, id)
			delete(p.announced, id)
		}
	}
	var added []string
	for id := range devices {
		if id != "" && !p.announced[id] {
			added = append(added, id)
			p.announced[id] = true
		}
	}
	p.mu.Unlock()

	for _, id := range removed {
		// Empty retained payload removes the discovered entity.
		p.client.Publish(p.configTopic(id), 0, true, []byte{})
	}

	for _, id := range added {
		p.publishDiscovery(devices[id])
	}

	for id, device := range devices {
		if id == "" {
			continue
		}
		p.publishState(device)
	}
}

func (p *Publisher) publishDiscovery(device Device) {
	payload := map[string]any{
		"name":                  device.Name,
		"unique_id":             p.topicPrefix + "_" + device.DeviceID,
		"state_topic":           p.stateTopic(device.DeviceID),
		"json_attributes_topic": p.attributesTopic(device.DeviceID),
		"availability_topic":    p.availabilityTopic(),
		"payload_home":          "home",
		"payload_not_home":      "not_home",
		"source_type":           "gps",
		"icon":                  AssetTypeIcon(device.Asset.Type),
		"device": map[string]any{
			"identifiers":  []string{"loca_" + device.DeviceID},
			"name":         device.Name,
			"manufacturer": "Loca",
			"model":        "GPS Tracker",
		},
	}
	p.publishJSON(p.configTopic(device.DeviceID), payload, true)
}

func (p *Publisher) publishState(device Device) {
	state := "not_home"
	if device.Latitude != 0 || device.Longitude != 0 {
		state = "home"
	}
	p.client.Publish(p.stateTopic(device.DeviceID), 0, false, state)
	p.publishJSON(p.attributesTopic(device.DeviceID), deviceAttributes(device), false)
}

// deviceAttributes builds the JSON attribute payload for one device.
func deviceAttributes(device Device) map[string]any {
	attributes := map[string]any{
		"latitude":        device.Latitude,
		"longitude":       device.Longitude,
		"gps_accuracy":    device.GPSAccuracy,
		"speed":           device.Speed,
		"satellites":      device.Satellites,
		"signal_strength": device.SignalStrength,
		"location_source": device.LocationSource,
		"asset":           device.Asset.AssetSummary(),
		"asset_type":      AssetTypeName(device.Asset.Type),
	}
	if device.BatteryLevel != nil {
		attributes["battery_level"] = *device.BatteryLevel
	}
	if device.LastSeen != nil {
		attributes["last_seen"] = device.LastSeen.UTC().Format(time.RFC3339)
	}
	if device.Address != nil {
		attributes["address"] = *device.Address
	}
	if device.LocationLabel != nil {
		attributes["location_label"] = *device.LocationLabel
	}
	if device.Asset.Serial != "" {
		attributes["serial"] = device.Asset.Serial
	}
	if device.Asset.GroupName != "" {
		attributes["group"] = device.Asset.GroupName
	}
	if device.LocationUpdate != (LocationUpdate{}) {
		attributes["update_schedule"] = device.LocationUpdate.Summary()
		attributes["update_frequency"] = device.LocationUpdate.FrequencyDescription()
		if device.LocationUpdate.Always != 1 {
			attributes["update_time"] = device.LocationUpdate.UpdateTime()
		}
	}
	return attributes
}

func (p *Publisher) publishJSON(topic string, payload any, retained bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("loca: encode mqtt payload for %s: %v", topic, err)
		return
	}
	p.client.Publish(topic, 0, retained, data)
}

// Close marks the integration offline and disconnects from the broker.
func (p *Publisher) Close() {
	if token := p.client.Publish(p.availabilityTopic(), 0, true, "offline"); token.Wait() && token.Error() != nil {
		logrus.Warnf("loca: publish offline availability: %v", token.Error())
	}
	p.client.Disconnect(250)
}
