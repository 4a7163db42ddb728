package sensor

import (
	"math"
	"runtime/debug"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

const (
	maxWait  = int64(time.Millisecond) // 100us
	attempts = 10
)

// Reader returns a humidity (%rH) and temperature (C) pair.
// Either value is NaN when the read failed.
type Reader interface {
	Read() (humidity, temp float32)
}

// NaN is the failed reading value.
var NaN = float32(math.NaN())

// IsNaN reports whether v is a failed reading.
func IsNaN(v float32) bool {
	return math.IsNaN(float64(v))
}

// DHT22 reads a DHT22/AM2302 on a single data pin.
type DHT22 struct {
	pin   rpio.Pin
	first bool
}

// NewDHT22 expects rpio.Open to have succeeded.
func NewDHT22(p int) *DHT22 {
	return &DHT22{pin: rpio.Pin(p), first: true}
}

// Read tries up to 10 times, returning NaN for both values if no attempt passed
// the checksum.
func (d *DHT22) Read() (float32, float32) {
	// first reading is always waited long enough, skip straight to reading!
	includeWait := !d.first
	d.first = false
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(100)
	for i := 0; i < attempts; i++ {
		t, h, ok := readDHT22(d.pin, includeWait)
		if ok {
			return h, t
		}
		includeWait = true // force a wait between readings
	}
	return NaN, NaN
}

func readDHT22(pin rpio.Pin, includeWait bool) (float32, float32, bool) {
	// early allocations before time critical code
	pulseLen := make([]int64, 82)

	if includeWait {
		time.Sleep(1700 * time.Millisecond)
	}
	pin.Mode(rpio.Output)
	pin.High()

	// send init values
	time.Sleep(400 * time.Millisecond)
	pin.Low()

	// spinlock for milliseconds while pin is low.
	// this signals the request for reading
	s := time.Now().UnixNano()
	to := int64(time.Millisecond * 20)
	for time.Now().UnixNano()-s < to {
	}
	pin.Mode(rpio.Input)
	pin.PullUp()

	// now we wait for DHT to pull low
	s = time.Now().UnixNano()
	firstWaitMax := int64(time.Millisecond * 5)
	for pin.Read() == rpio.High {
		if time.Now().UnixNano()-s > firstWaitMax {
			return -1, -1, false // DHT never pulled low... probably retry
		}
	}

	// DHT pulls low for 80us and then 80us to signal its starting
	// After that we read 40 low and 40 high pulses.
	var end int64
READER:
	for i := 0; i < 81; i += 2 {
		s = 0
		end = 0
		for pin.Read() == rpio.Low {
			if end-s > maxWait {
				break READER
			}
			end++
		}
		pulseLen[i] = end - s

		s = 0
		end = 0
		for pin.Read() == rpio.High {
			if end-s > maxWait {
				break READER
			}
			end++
		}
		pulseLen[i+1] = end - s
	}
	pin.PullOff()

	t, h, ok := decode(pulseLen)
	return t, h, ok
}

// decode turns the 82 pulse lengths into temperature and humidity.
// High pulses longer than the average low pulse are 1 bits.
func decode(pulseLen []int64) (float32, float32, bool) {
	var threshold int64
	for i := 2; i < 82; i += 2 {
		threshold += pulseLen[i]
	}
	threshold /= 40

	bytes := make([]uint8, 5)
	for i := 3; i < 82; i += 2 {
		bi := (i - 3) / 16
		bytes[bi] <<= 1
		if pulseLen[i] > threshold {
			bytes[bi] |= 0x01
		}
	}
	t, h := convert(bytes)
	return t, h, checksum(bytes)
}

func convert(bytes []uint8) (temperature, humidity float32) {
	humidity = float32(uint16(bytes[0])*256+uint16(bytes[1])) / 10.0
	temperature = float32((uint16(bytes[2])&0x7F)*256+uint16(bytes[3])) / 10.0
	// check for negative temperature
	if uint16(bytes[2])&0x80 > 0 {
		temperature *= -1
	}
	return temperature, humidity
}

func checksum(bytes []uint8) bool {
	var sum uint8
	for i := 0; i < 4; i++ {
		sum += bytes[i]
	}
	return sum == bytes[4]
}
