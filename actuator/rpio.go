package actuator

import (
	"sync"
	"sync/atomic"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Duty cycle resolution, 8 bits like the original boards.
const cycleLen = 255

// softPeriod is the software pwm period for pins without a hardware channel.
const softPeriod = 10 * time.Millisecond

// hwChannel maps hardware pwm capable pins to their channel.
var hwChannel = map[int]int{12: 0, 18: 0, 13: 1, 19: 1}

// Pin is a digital output. Expects rpio.Open to have succeeded.
type Pin struct {
	pin rpio.Pin
}

// NewPin sets p as an output and drives it low.
func NewPin(p int) *Pin {
	pin := rpio.Pin(p)
	pin.Output()
	pin.Low()
	return &Pin{pin: pin}
}

func (p *Pin) Set(on bool) {
	if on {
		p.pin.High()
	} else {
		p.pin.Low()
	}
}

// HardPWM is a pin driven by one of the two hardware pwm channels.
type HardPWM struct {
	pin rpio.Pin
}

func newHardPWM(p int, freq int) *HardPWM {
	pin := rpio.Pin(p)
	pin.Mode(rpio.Pwm)
	pin.Freq(freq * cycleLen)
	pin.DutyCycle(0, cycleLen)
	return &HardPWM{pin: pin}
}

func (h *HardPWM) SetDuty(v int) {
	h.pin.DutyCycle(uint32(v), cycleLen)
}

// level is the part of rpio.Pin software pwm needs.
type level interface {
	High()
	Low()
}

// SoftPWM toggles a plain output pin from its own goroutine.
type SoftPWM struct {
	pin  level
	duty atomic.Int64
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newSoftPWM(p int) *SoftPWM {
	pin := rpio.Pin(p)
	pin.Output()
	return startSoftPWM(pin)
}

func startSoftPWM(pin level) *SoftPWM {
	pin.Low()
	s := &SoftPWM{pin: pin, stop: make(chan struct{}), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *SoftPWM) SetDuty(v int) {
	s.duty.Store(int64(v))
}

// Close stops the toggling goroutine and returns once the pin has been
// driven low for the last time. The pin is not touched after Close returns,
// so rpio.Close is safe to call next.
func (s *SoftPWM) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *SoftPWM) run() {
	defer close(s.done)
	defer s.pin.Low()
	for {
		on := onTime(s.duty.Load())
		switch {
		case on <= 0:
			s.pin.Low()
			if !s.wait(softPeriod) {
				return
			}
		case on >= softPeriod:
			s.pin.High()
			if !s.wait(softPeriod) {
				return
			}
		default:
			s.pin.High()
			if !s.wait(on) {
				return
			}
			s.pin.Low()
			if !s.wait(softPeriod - on) {
				return
			}
		}
	}
}

// wait sleeps for d, returning false early if the pwm was stopped.
func (s *SoftPWM) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

// onTime is the high portion of one soft pwm period for duty d.
func onTime(d int64) time.Duration {
	return time.Duration(d) * softPeriod / cycleLen
}

// NewRPIOOutputs opens the led pins. RGB pins use a hardware channel when the
// pin has one that is still free, otherwise software pwm.
func NewRPIOOutputs(green, red int, rgb [3]int, freq int) Outputs {
	o := Outputs{Green: NewPin(green), Red: NewPin(red)}
	used := map[int]bool{}
	for i, p := range rgb {
		if ch, ok := hwChannel[p]; ok && !used[ch] {
			used[ch] = true
			o.RGB[i] = newHardPWM(p, freq)
			continue
		}
		o.RGB[i] = newSoftPWM(p)
	}
	return o
}

// Close stops any software pwm goroutines.
func (o Outputs) Close() {
	for _, p := range o.RGB {
		if s, ok := p.(*SoftPWM); ok {
			s.Close()
		}
	}
}
