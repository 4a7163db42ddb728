package climate

// Comfort is the derived classification of a thermometer reading.
type Comfort string

const (
	Comfortable   Comfort = "comfortable"
	Uncomfortable Comfort = "uncomfortable"
)

// Thresholds are the limits above which a room is uncomfortable.
// Both limits must be exceeded.
type Thresholds struct {
	Humidity float32 // %rH
	Temp     float32 // C
}

// DefaultThresholds is 60%rH and 30C.
var DefaultThresholds = Thresholds{Humidity: 60, Temp: 30}

// Classify returns Uncomfortable only when humidity and temperature are both
// strictly above the thresholds.
func (t Thresholds) Classify(humidity, temp float32) Comfort {
	if humidity > t.Humidity && temp > t.Temp {
		return Uncomfortable
	}
	return Comfortable
}

// Classify uses the default thresholds.
func Classify(humidity, temp float32) Comfort {
	return DefaultThresholds.Classify(humidity, temp)
}
