package terraform

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Event is one brush stroke. Seq is its position in the global log.
type Event struct {
	Point     mgl64.Vec3 `json:"point"`
	Radius    float64    `json:"radius"`
	Speed     float64    `json:"speed"`
	Add       bool       `json:"add"`
	DeltaTime float64    `json:"dt"`
	Seq       int        `json:"seq"`
}

// Validate rejects strokes the apply kernel cannot process.
func (e Event) Validate() error {
	for _, v := range []float64{e.Point[0], e.Point[1], e.Point[2], e.Radius, e.Speed, e.DeltaTime} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("terraform: event values must be finite")
		}
	}
	if e.Radius <= 0 {
		return errors.New("terraform: radius must be positive")
	}
	if e.Speed < 0 {
		return errors.New("terraform: speed cannot be negative")
	}
	if e.DeltaTime < 0 {
		return errors.New("terraform: dt cannot be negative")
	}
	return nil
}

// Log is the append-only, globally ordered list of terraform events.
// Identical strokes are kept as separate entries.
type Log struct {
	events []Event
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append stamps e with the next sequence number and stores it.
func (l *Log) Append(e Event) Event {
	e.Seq = len(l.events)
	l.events = append(l.events, e)
	return e
}

// Len is the number of events appended so far.
func (l *Log) Len() int {
	return len(l.events)
}

// At returns the event with sequence number i.
func (l *Log) At(i int) Event {
	return l.events[i]
}

// Since returns the events a node with the given watermark has not yet
// folded in. The result must not be modified.
func (l *Log) Since(watermark int) []Event {
	if watermark < 0 {
		watermark = 0
	}
	if watermark >= len(l.events) {
		return nil
	}
	return l.events[watermark:len(l.events):len(l.events)]
}
