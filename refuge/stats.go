package refuge

import (
	"time"

	"gitlab.com/lologarithm/cloudthermo/climate"
)

// Event is pushed to local observers (websocket clients, multicast listeners).
// Exactly one of Record or Actuators is set.
type Event struct {
	Name      string     // Name of node
	Time      time.Time  // Time of event
	Record    *Record    `json:",omitempty"`
	Actuators *Actuators `json:",omitempty"`
}

// Status is the comfort transition tracked for alerting.
type Status struct {
	Previous climate.Comfort
	Current  climate.Comfort
}

// BecameUncomfortable is true when the room just left the comfortable state.
func (s Status) BecameUncomfortable() bool {
	return s.Previous != climate.Uncomfortable && s.Current == climate.Uncomfortable
}
