package refuge

import (
	"testing"
	"time"

	"gitlab.com/lologarithm/cloudthermo/climate"
)

func TestRecordPaths(t *testing.T) {
	r := Record{Unix: 1705311000}
	if got := r.Path(); got != "sensor/1705311000" {
		t.Errorf("Path() = %q", got)
	}
	if got := r.Field(FieldHumidity); got != "sensor/1705311000/humedad" {
		t.Errorf("Field() = %q", got)
	}
}

func TestNewRecord(t *testing.T) {
	loc := time.FixedZone("", 7200)
	rd := Reading{Temp: 31, Humidity: 61, Time: time.Date(2024, 1, 15, 10, 30, 0, 0, loc)}
	r := NewRecord(rd, loc, climate.DefaultThresholds)
	if r.Unix != 1705307400 || r.Timestamp != "2024-01-15T10:30:00" {
		t.Errorf("record time = %d %q", r.Unix, r.Timestamp)
	}
	if r.Comfort != climate.Uncomfortable || r.Temp != 31 || r.Humidity != 61 {
		t.Errorf("record = %+v", r)
	}
	if got := r.Path(); got != "sensor/1705307400" {
		t.Errorf("Path() = %q", got)
	}
}

func TestActuatorsApplied(t *testing.T) {
	on := true
	v := 128
	a := Actuators{Green: &on, RGB: [3]*int{nil, &v, &v}}
	if got := a.Applied(); got != 3 {
		t.Errorf("Applied() = %d, want 3", got)
	}
	if got := (Actuators{}).Applied(); got != 0 {
		t.Errorf("empty Applied() = %d, want 0", got)
	}
}

func TestBecameUncomfortable(t *testing.T) {
	if !(Status{Previous: "", Current: climate.Uncomfortable}).BecameUncomfortable() {
		t.Error("first uncomfortable reading should count as a transition")
	}
	if !(Status{Previous: climate.Comfortable, Current: climate.Uncomfortable}).BecameUncomfortable() {
		t.Error("comfortable -> uncomfortable should be a transition")
	}
	if (Status{Previous: climate.Uncomfortable, Current: climate.Uncomfortable}).BecameUncomfortable() {
		t.Error("staying uncomfortable is not a transition")
	}
}
