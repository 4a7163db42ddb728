package refuge

import (
	"time"

	"gitlab.com/lologarithm/cloudthermo/climate"
	"gitlab.com/lologarithm/cloudthermo/clock"
)

// Remote key layout shared with the dashboard that writes actuator commands.
const (
	KeyLedGreen = "actuador/led_g"
	KeyLedRed   = "actuador/led_r"
	KeyRGBRed   = "actuador/rgb/red"
	KeyRGBGreen = "actuador/rgb/green"
	KeyRGBBlue  = "actuador/rgb/blue"

	SensorRoot = "sensor"

	FieldTimestamp = "timestamp"
	FieldTemp      = "temperatura"
	FieldHumidity  = "humedad"
	FieldComfort   = "confort"
)

// RGBKeys are the rgb channel keys in Red, Green, Blue order.
var RGBKeys = [3]string{KeyRGBRed, KeyRGBGreen, KeyRGBBlue}

// Reading is one thermometer measurement.
type Reading struct {
	Temp     float32 // Celsius
	Humidity float32 // %rH
	Time     time.Time
}

// Record is what gets written to the remote store for each sensor cycle.
type Record struct {
	Unix      int64
	Timestamp string // ISO-8601 local time
	Temp      float32
	Humidity  float32
	Comfort   climate.Comfort
}

// NewRecord stamps and classifies a reading. Timestamp is local time in loc.
func NewRecord(rd Reading, loc *time.Location, th climate.Thresholds) Record {
	return Record{
		Unix:      rd.Time.Unix(),
		Timestamp: clock.ISO(rd.Time, loc),
		Temp:      rd.Temp,
		Humidity:  rd.Humidity,
		Comfort:   th.Classify(rd.Humidity, rd.Temp),
	}
}

// Path is the remote node this record is stored under.
func (r Record) Path() string {
	return SensorRoot + "/" + clock.Unix(time.Unix(r.Unix, 0))
}

// Field returns the full remote path of a single record field.
func (r Record) Field(name string) string {
	return r.Path() + "/" + name
}

// Actuators is what was applied to the outputs in a single actuator tick.
// A nil entry means the read for that key failed and the output was left alone.
type Actuators struct {
	Green *bool
	Red   *bool
	RGB   [3]*int
}

// Applied reports how many outputs were updated.
func (a Actuators) Applied() int {
	n := 0
	if a.Green != nil {
		n++
	}
	if a.Red != nil {
		n++
	}
	for _, v := range a.RGB {
		if v != nil {
			n++
		}
	}
	return n
}
