package loca

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultAccuracy = 100

	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0

	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
)

// ParseStatusDevice normalizes one StatusList entry into a Device. The
// group name is resolved through the client's group cache.
func (c *Client) ParseStatusDevice(entry map[string]any) Device {
	return parseStatusDevice(entry, c.GroupName)
}

func parseStatusDevice(entry map[string]any, groupName func(any) string) Device {
	asset := asMap(entry["Asset"])
	history := asMap(entry["History"])
	spot := asMap(entry["Spot"])

	deviceID := idString(asset["id"])
	name := asString(asset["label"])
	if name == "" {
		name = "Loca Device " + deviceID
	}

	latitude, longitude := safeCoordinates(history["latitude"], history["longitude"])
	lastSeen := epochTime(history["time"])

	var battery *int
	if charge, ok := history["charge"]; ok && charge != nil {
		level := clampBattery(asInt(charge, 0))
		battery = &level
	}

	// HDOP doubles as a crude accuracy-in-meters proxy. Missing or
	// unparsable values fall back to 1; a falsy value means no fix
	// quality was reported and gets the stock default.
	accuracy := asInt(history["HDOP"], 1)
	if accuracy == 0 {
		accuracy = defaultAccuracy
	}

	source := SourceGPS
	if len(spot) > 0 && asInt(spot["origin"], 1) != 1 {
		source = SourceCellTower
	}

	var address *string
	if len(spot) > 0 {
		if formatted := formatAddress(spot); formatted != "" {
			address = &formatted
		}
	}

	var locationLabel *string
	if label := asString(spot["label"]); label != "" {
		locationLabel = &label
	}

	return Device{
		DeviceID:       deviceID,
		Name:           name,
		Latitude:       latitude,
		Longitude:      longitude,
		BatteryLevel:   battery,
		GPSAccuracy:    accuracy,
		LastSeen:       lastSeen,
		LocationSource: source,
		Address:        address,
		LocationLabel:  locationLabel,
		Speed:          asFloat(history["speed"], 0),
		Satellites:     asInt(history["SATU"], 0),
		SignalStrength: asInt(history["strength"], 0),
		Asset: AssetInfo{
			Brand:     asString(asset["brand"]),
			Model:     asString(asset["model"]),
			Serial:    asString(asset["serial"]),
			Type:      asInt(asset["type"], 0),
			GroupID:   asInt(asset["group"], 0),
			GroupName: groupName(asset["group"]),
		},
		LocationUpdate: parseLocationUpdate(asMap(asset["locationupdate"])),
		AddressDetails: AddressDetails{
			Street:   asString(spot["street"]),
			Number:   asString(spot["number"]),
			City:     asString(spot["city"]),
			District: asString(spot["district"]),
			Region:   asString(spot["region"]),
			State:    asString(spot["state"]),
			Zipcode:  asString(spot["zipcode"]),
			Country:  asString(spot["country"]),
		},
		Raw: entry,
	}
}

// ParseLocationDevice normalizes one UserLocationList entry (a named
// geofence) into a Device. Geofences carry no battery or asset metadata;
// accuracy comes from the configured radius.
func ParseLocationDevice(location map[string]any) Device {
	deviceID := idString(location["id"])
	name := asString(location["label"])
	if name == "" {
		name = "Loca Location " + deviceID
	}

	latitude, longitude := safeCoordinates(location["latitude"], location["longitude"])

	accuracy := asInt(location["radius"], defaultAccuracy)
	if accuracy < 1 {
		accuracy = defaultAccuracy
	}

	var address *string
	if formatted := formatAddress(location); formatted != "" {
		address = &formatted
	}

	return Device{
		DeviceID:       deviceID,
		Name:           name,
		Latitude:       latitude,
		Longitude:      longitude,
		GPSAccuracy:    accuracy,
		LastSeen:       isoTime(asString(location["update"])),
		LocationSource: SourceGPS,
		Address:        address,
		Raw:            location,
	}
}

func parseLocationUpdate(raw map[string]any) LocationUpdate {
	return LocationUpdate{
		Frequency: asInt(raw["frequency"], 0),
		Always:    asInt(raw["always"], 0),
		Begin:     asInt(raw["begin"], 0),
		End:       asInt(raw["end"], 0),
		TimeOfDay: asInt(raw["timeofday"], 0),
	}
}

// formatAddress renders "Street Number, Zipcode City, Country", omitting
// any segment whose fields are all absent.
func formatAddress(raw map[string]any) string {
	var parts []string

	street := asString(raw["street"])
	number := asString(raw["number"])
	switch {
	case street != "" && number != "":
		parts = append(parts, street+" "+number)
	case street != "":
		parts = append(parts, street)
	}

	var zipcodeCity []string
	if zipcode := asString(raw["zipcode"]); zipcode != "" {
		zipcodeCity = append(zipcodeCity, zipcode)
	}
	if city := asString(raw["city"]); city != "" {
		zipcodeCity = append(zipcodeCity, city)
	}
	if len(zipcodeCity) > 0 {
		parts = append(parts, strings.Join(zipcodeCity, " "))
	}

	if country := asString(raw["country"]); country != "" {
		parts = append(parts, country)
	}

	return strings.Join(parts, ", ")
}

// UpdateTime formats the schedule's timeofday field as HH:MM. The
// encoding is undocumented vendor behavior: values of 1000 and above are
// read as a packed HHMM00 integer, smaller values as seconds since
// midnight. Both readings are reverse-engineered guesses.
func (u LocationUpdate) UpdateTime() string {
	value := u.TimeOfDay
	var hours, minutes int
	if value >= 1000 {
		if value >= 10000 {
			hours = value / 10000
		}
		if value >= 100 {
			minutes = (value % 10000) / 100
		}
	} else {
		seconds := value
		if seconds < 0 {
			seconds = -seconds
		}
		seconds %= secondsPerDay
		if seconds >= secondsPerHour {
			hours = seconds / secondsPerHour
		}
		if seconds >= secondsPerMinute {
			minutes = (seconds % secondsPerHour) / secondsPerMinute
		}
	}

	hours = min(23, max(0, hours))
	minutes = min(59, max(0, minutes))
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}

// FrequencyDescription renders the reporting frequency human-readable.
func (u LocationUpdate) FrequencyDescription() string {
	switch {
	case u.Frequency >= secondsPerDay:
		return fmt.Sprintf("%d day(s)", u.Frequency/secondsPerDay)
	case u.Frequency >= secondsPerHour:
		return fmt.Sprintf("%d hour(s)", u.Frequency/secondsPerHour)
	case u.Frequency >= secondsPerMinute:
		return fmt.Sprintf("%d minute(s)", u.Frequency/secondsPerMinute)
	default:
		return fmt.Sprintf("%d second(s)", u.Frequency)
	}
}

// safeCoordinates coerces and range-checks a coordinate pair, falling
// back to 0,0 on anything unusable.
func safeCoordinates(latValue, lonValue any) (float64, float64) {
	latitude := asFloat(latValue, 0)
	longitude := asFloat(lonValue, 0)
	if latitude < minLatitude || latitude > maxLatitude ||
		longitude < minLongitude || longitude > maxLongitude {
		logrus.Warnf("loca: coordinates %v,%v out of range, using 0,0", latValue, lonValue)
		return 0, 0
	}
	return latitude, longitude
}

func clampBattery(level int) int {
	return max(0, min(100, level))
}

// epochTime interprets a Unix epoch seconds value as a UTC timestamp.
// Falsy or unparsable values yield nil.
func epochTime(value any) *time.Time {
	seconds, ok := toFloat(value)
	if !ok || int64(seconds) == 0 {
		return nil
	}
	parsed := time.Unix(int64(seconds), 0).UTC()
	return &parsed
}

// isoTime parses an ISO-8601-ish timestamp. A trailing Z is read as UTC
// and a missing offset is assumed to be UTC.
func isoTime(value string) *time.Time {
	if value == "" {
		return nil
	}

	normalized := value
	if strings.HasSuffix(normalized, "Z") {
		normalized = strings.TrimSuffix(normalized, "Z") + "+00:00"
	} else if !strings.Contains(normalized, "+") && strings.Contains(normalized, "T") {
		normalized += "+00:00"
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, normalized); err == nil {
			return &parsed
		}
	}

	logrus.Debugf("loca: could not parse update time %q", value)
	return nil
}

// idString renders a vendor id as a string. JSON numbers arrive as
// float64; integral values must not pick up a fractional suffix.
func idString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case float64:
		if typed == math.Trunc(typed) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}

func asMap(value any) map[string]any {
	if typed, ok := value.(map[string]any); ok {
		return typed
	}
	return map[string]any{}
}

func asString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	}
	return ""
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		if typed == "" {
			return 0, false
		}
		if parsed, err := strconv.ParseFloat(typed, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func asFloat(value any, fallback float64) float64 {
	if parsed, ok := toFloat(value); ok {
		return parsed
	}
	return fallback
}

func asInt(value any, fallback int) int {
	if parsed, ok := toFloat(value); ok {
		return int(parsed)
	}
	return fallback
}
