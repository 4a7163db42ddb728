// Package clock provides wall-clock time from network time sync and the
// timestamp formats written to the remote store.
package clock

import (
	"errors"
	"strconv"
	"time"
)

// ErrNotSynced is returned until the time source has synchronized once.
var ErrNotSynced = errors.New("clock: time not synchronized")

// ISOLayout is local time without zone suffix.
const ISOLayout = "2006-01-02T15:04:05"

// Source hands out the current wall-clock time or ErrNotSynced.
type Source interface {
	Now() (time.Time, error)
}

// Zone builds the fixed local zone from a gmt and a daylight offset in seconds.
func Zone(gmtOffset, daylightOffset int) *time.Location {
	return time.FixedZone("local", gmtOffset+daylightOffset)
}

// ISO formats t in loc as YYYY-MM-DDTHH:MM:SS.
func ISO(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(ISOLayout)
}

// Unix formats t as decimal epoch seconds.
func Unix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Fixed is a Source that always returns T, or ErrNotSynced when T is zero.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() (time.Time, error) {
	if f.T.IsZero() {
		return time.Time{}, ErrNotSynced
	}
	return f.T, nil
}

// Millis is a wrapping 32 bit millisecond counter since Start.
type Millis struct {
	Start time.Time
}

// NewMillis starts counting now.
func NewMillis() Millis {
	return Millis{Start: time.Now()}
}

// Now truncates to 32 bits, wrapping every ~49.7 days.
func (m Millis) Now() uint32 {
	return uint32(time.Since(m.Start).Milliseconds())
}
