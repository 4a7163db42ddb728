package actuator

import (
	"sync"
	"testing"
	"time"
)

func TestOnTime(t *testing.T) {
	tests := []struct {
		duty int64
		want time.Duration
	}{
		{0, 0},
		{255, softPeriod},
		{51, 2 * time.Millisecond},
		{-5, -5 * softPeriod / cycleLen},
		{510, 2 * softPeriod},
	}
	for _, tt := range tests {
		if got := onTime(tt.duty); got != tt.want {
			t.Errorf("onTime(%d) = %v, want %v", tt.duty, got, tt.want)
		}
	}
}

func TestFakeOutputs(t *testing.T) {
	o := NewFake()
	o.Green.Set(true)
	o.RGB[2].SetDuty(300)

	if g := o.Green.(*FakeDigital); !g.On || g.Calls != 1 {
		t.Errorf("green = %+v", g)
	}
	if r := o.Red.(*FakeDigital); r.Calls != 0 {
		t.Errorf("red touched: %+v", r)
	}
	// out of range duty is passed through untouched
	if b := o.RGB[2].(*FakePWM); b.Duty != 300 {
		t.Errorf("blue duty = %d, want 300", b.Duty)
	}
	// Close is a no-op for fakes
	o.Close()
}

type fakeLevel struct {
	mu    sync.Mutex
	high  bool
	calls int
}

func (f *fakeLevel) High() { f.set(true) }
func (f *fakeLevel) Low()  { f.set(false) }

func (f *fakeLevel) set(v bool) {
	f.mu.Lock()
	f.high = v
	f.calls++
	f.mu.Unlock()
}

func (f *fakeLevel) state() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high, f.calls
}

func TestSoftPWMCloseStopsPinWrites(t *testing.T) {
	pin := &fakeLevel{}
	s := startSoftPWM(pin)
	s.SetDuty(128)
	time.Sleep(3 * softPeriod)
	if _, n := pin.state(); n < 2 {
		t.Fatalf("pin toggled %d times, want at least 2", n)
	}

	s.Close()
	high, n := pin.state()
	if high {
		t.Error("pin left high after Close")
	}
	time.Sleep(3 * softPeriod)
	if _, after := pin.state(); after != n {
		t.Errorf("pin written %d times after Close returned", after-n)
	}
	// closing again is harmless
	s.Close()
}
