package sensor

// Fake is used when the gpio pins cannot be opened.
type Fake struct {
	Humidity float32
	Temp     float32
}

// NewFake reads 50%rH and 20C forever.
func NewFake() *Fake {
	return &Fake{Humidity: 50, Temp: 20}
}

func (f *Fake) Read() (float32, float32) {
	return f.Humidity, f.Temp
}
