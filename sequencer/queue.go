package sequencer

import (
	"cmp"
	"slices"
	"sync"

	"go-syncstart/hosttime"
)

// CommandKind is what a queued command does when it comes due.
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandStop
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	}
	return "unknown"
}

// Command is a scheduled state change. HostTime 0 means "as soon as
// possible"; Param carries the tempo for a Start.
type Command struct {
	HostTime uint64
	Kind     CommandKind
	Param    float32

	seq uint64 // insertion order, breaks HostTime ties
}

// cmdQueue is the only state shared between producers and the render loop.
// Its lock is held to append, or to sort and pull out the due commands;
// never while commands run or triggers render.
type cmdQueue struct {
	mu      sync.Mutex
	pending []Command
	nextSeq uint64
	closed  bool
}

func (q *cmdQueue) push(c Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	c.seq = q.nextSeq
	q.nextSeq++
	q.pending = append(q.pending, c)
	return true
}

// takeDue appends the commands due before the playable part of
// [offset, offset+length) to due, removing them from the queue, and
// returns how many samples from offset can be rendered before the next
// command inside the window has to interrupt.
func (q *cmdQueue) takeDue(now uint64, latency int64, sampleRate float64, offset, length int, due []Command) ([]Command, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return due, length
	}
	slices.SortFunc(q.pending, func(a, b Command) int {
		if c := cmp.Compare(a.HostTime, b.HostTime); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	end := offset + length
	kept := q.pending[:0]
	result := length
	for i, c := range q.pending {
		if c.HostTime != 0 {
			at := hosttime.NanosToSamples(hosttime.Diff(c.HostTime, now)+latency, sampleRate)
			if at >= int64(end) {
				kept = append(kept, c)
				continue
			}
			if at > int64(offset) {
				// fires at the start of the next call
				result = int(at) - offset
				kept = append(kept, q.pending[i:]...)
				break
			}
		}
		due = append(due, c)
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	return due, result
}

func (q *cmdQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close drops pending commands and refuses new ones.
func (q *cmdQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	q.closed = true
	return n
}
