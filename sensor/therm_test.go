package sensor

import "testing"

// pulses builds the 82 pulse lengths a DHT22 would produce for data.
func pulses(data []uint8) []int64 {
	p := make([]int64, 82)
	for i := 0; i < 82; i += 2 {
		p[i] = 50 // low pulses
	}
	bit := 0
	for _, b := range data {
		for j := 7; j >= 0; j-- {
			if b&(1<<uint(j)) != 0 {
				p[3+bit*2] = 70
			} else {
				p[3+bit*2] = 26
			}
			bit++
		}
	}
	return p
}

func TestDecode(t *testing.T) {
	// 65.2 %rH, 35.1 C
	data := []uint8{0x02, 0x8C, 0x01, 0x5F, 0}
	data[4] = data[0] + data[1] + data[2] + data[3]

	temp, hum, ok := decode(pulses(data))
	if !ok {
		t.Fatal("checksum failed")
	}
	if temp != 35.1 || hum != 65.2 {
		t.Errorf("decode = %v C %v %%rH, want 35.1 C 65.2 %%rH", temp, hum)
	}
}

func TestDecodeNegativeTemp(t *testing.T) {
	// -10.1 C
	data := []uint8{0x01, 0xF4, 0x80, 0x65, 0}
	data[4] = data[0] + data[1] + data[2] + data[3]

	temp, hum, ok := decode(pulses(data))
	if !ok {
		t.Fatal("checksum failed")
	}
	if temp != -10.1 || hum != 50 {
		t.Errorf("decode = %v C %v %%rH", temp, hum)
	}
}

func TestDecodeBadChecksum(t *testing.T) {
	data := []uint8{0x02, 0x8C, 0x01, 0x5F, 0x00}
	if _, _, ok := decode(pulses(data)); ok {
		t.Error("expected checksum failure")
	}
}

func TestIsNaN(t *testing.T) {
	if !IsNaN(NaN) {
		t.Error("NaN not detected")
	}
	if IsNaN(20) {
		t.Error("20 reported as NaN")
	}
}
