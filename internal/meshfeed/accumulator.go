package meshfeed

import (
	"sort"

	"planetcore/internal/planet"
)

// update is the latest pending message for one slot and channel.
type update struct {
	kind    MessageType
	key     planet.NodeKey
	payload any
}

// Published surfaces go out before hides and releases so a client never
// drops a parent before the children replacing it arrive.
var updatePriority = map[MessageType]int{
	MessageMesh:        0,
	MessageCollision:   0,
	MessageDecorations: 0,
	MessageHide:        1,
	MessageRelease:     2,
}

type channel int

const (
	channelSurface channel = iota
	channelCollision
	channelDecorations
)

type slotChannel struct {
	key planet.NodeKey
	ch  channel
}

// accumulator coalesces sink calls between flushes: only the last update
// per slot and channel is sent.
type accumulator struct {
	data map[slotChannel]update
}

func newAccumulator() *accumulator {
	return &accumulator{data: make(map[slotChannel]update)}
}

func (a *accumulator) add(ch channel, u update) {
	if a.data == nil {
		a.data = make(map[slotChannel]update)
	}
	a.data[slotChannel{key: u.key, ch: ch}] = u
}

func (a *accumulator) len() int {
	return len(a.data)
}

// flush returns the pending updates in send order and resets the buffer.
func (a *accumulator) flush() []update {
	if len(a.data) == 0 {
		return nil
	}
	out := make([]update, 0, len(a.data))
	for _, u := range a.data {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priority(out[i].kind), priority(out[j].kind)
		if pi != pj {
			return pi < pj
		}
		if out[i].key.Level != out[j].key.Level {
			return out[i].key.Level > out[j].key.Level
		}
		ki, kj := out[i].key.Position, out[j].key.Position
		for axis := 0; axis < 3; axis++ {
			if ki[axis] != kj[axis] {
				return ki[axis] < kj[axis]
			}
		}
		return out[i].kind < out[j].kind
	})
	a.data = make(map[slotChannel]update)
	return out
}

func priority(kind MessageType) int {
	if v, ok := updatePriority[kind]; ok {
		return v
	}
	return 0
}
