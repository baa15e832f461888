package loca

import "time"

// Location source values reported on a device snapshot.
const (
	SourceGPS       = "GPS"
	SourceCellTower = "Cell Tower"
)

// Device is the normalized snapshot of one tracker.
type Device struct {
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	BatteryLevel   *int           `json:"battery_level"`
	GPSAccuracy    int            `json:"gps_accuracy"`
	LastSeen       *time.Time     `json:"last_seen"`
	LocationSource string         `json:"location_source"`
	Address        *string        `json:"address"`
	LocationLabel  *string        `json:"location_label,omitempty"`
	Speed          float64        `json:"speed"`
	Satellites     int            `json:"satellites"`
	SignalStrength int            `json:"signal_strength"`
	Asset          AssetInfo      `json:"asset_info"`
	LocationUpdate LocationUpdate `json:"location_update"`
	AddressDetails AddressDetails `json:"address_details"`

	// Raw is the unparsed vendor record, kept for diagnostics only.
	Raw map[string]any `json:"attributes,omitempty"`
}

// AssetInfo carries tracker hardware metadata.
type AssetInfo struct {
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Serial    string `json:"serial"`
	Type      int    `json:"type"`
	GroupID   int    `json:"group_id"`
	GroupName string `json:"group_name"`
}

// AddressDetails is the reverse-geocoded address broken into components.
type AddressDetails struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	City     string `json:"city"`
	District string `json:"district"`
	Region   string `json:"region"`
	State    string `json:"state"`
	Zipcode  string `json:"zipcode"`
	Country  string `json:"country"`
}

// LocationUpdate is the tracker's reporting schedule as configured at the
// vendor. The timeofday encoding is undocumented; see UpdateTime.
type LocationUpdate struct {
	Frequency int `json:"frequency"`
	Always    int `json:"always"`
	Begin     int `json:"begin"`
	End       int `json:"end"`
	TimeOfDay int `json:"timeofday"`
}

// Summary renders the schedule as a short human-readable state.
func (u LocationUpdate) Summary() string {
	if u == (LocationUpdate{}) {
		return "Not configured"
	}
	if u.Always == 1 {
		return "Always on"
	}
	return "Scheduled"
}

// assetTypeNames maps the vendor's asset type codes to names.
var assetTypeNames = map[int]string{
	0:  "tracker",
	1:  "car",
	2:  "bike",
	3:  "boat",
	4:  "cargo_trailer",
	5:  "container",
	6:  "dumpster",
	7:  "excavator",
	8:  "generator",
	9:  "motorbike",
	10: "scooter",
	11: "suitcase",
	12: "truck",
	13: "utility_trailer",
	14: "van",
}

// assetTypeIcons maps asset type codes to Material Design icon names,
// used for MQTT discovery.
var assetTypeIcons = map[int]string{
	0:  "mdi:radar",
	1:  "mdi:car",
	2:  "mdi:bicycle",
	3:  "mdi:sail-boat",
	4:  "mdi:truck-trailer",
	5:  "mdi:package-variant-closed",
	6:  "mdi:delete-variant",
	7:  "mdi:excavator",
	8:  "mdi:engine",
	9:  "mdi:motorcycle",
	10: "mdi:scooter-electric",
	11: "mdi:briefcase",
	12: "mdi:truck",
	13: "mdi:trailer",
	14: "mdi:van-utility",
}

// AssetTypeName returns the name for a vendor asset type code.
func AssetTypeName(code int) string {
	if name, ok := assetTypeNames[code]; ok {
		return name
	}
	return "tracker"
}

// AssetTypeIcon returns the icon for a vendor asset type code.
func AssetTypeIcon(code int) string {
	if icon, ok := assetTypeIcons[code]; ok {
		return icon
	}
	return "mdi:radar"
}

// AssetSummary renders "Brand Model" with fallbacks for missing parts.
func (a AssetInfo) AssetSummary() string {
	switch {
	case a.Brand != "" && a.Model != "":
		return a.Brand + " " + a.Model
	case a.Brand != "":
		return a.Brand
	case a.Model != "":
		return a.Model
	default:
		return "Unknown Asset"
	}
}
