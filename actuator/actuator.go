// Package actuator drives the two status leds and the rgb led.
package actuator

// Digital is an on/off output.
type Digital interface {
	Set(on bool)
}

// PWM is an output with an 8 bit duty cycle. Values outside 0-255 are
// passed through as-is.
type PWM interface {
	SetDuty(v int)
}

// Outputs groups everything the actuator tick drives.
type Outputs struct {
	Green Digital
	Red   Digital
	RGB   [3]PWM // red, green, blue
}

// FakeDigital remembers the last value set.
type FakeDigital struct {
	On    bool
	Calls int
}

func (f *FakeDigital) Set(on bool) {
	f.On = on
	f.Calls++
}

// FakePWM remembers the last duty set.
type FakePWM struct {
	Duty  int
	Calls int
}

func (f *FakePWM) SetDuty(v int) {
	f.Duty = v
	f.Calls++
}

// NewFake returns outputs backed by fakes, used when gpio is unavailable.
func NewFake() Outputs {
	return Outputs{
		Green: &FakeDigital{},
		Red:   &FakeDigital{},
		RGB:   [3]PWM{&FakePWM{}, &FakePWM{}, &FakePWM{}},
	}
}
