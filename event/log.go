package event

import (
	"slices"
	"sort"
)

// Log is the ordered sequence of durable events for one conversation,
// keyed by Seq. It holds at most one event per Seq and never holds
// ephemeral events. A Log is not safe for concurrent use.
type Log struct {
	events []Event
	index  map[int64]int
}

// NewLog builds a log from events in any order. Later duplicates win.
func NewLog(events ...Event) *Log {
	l := &Log{index: make(map[int64]int)}
	l.reset(events)
	return l
}

func (l *Log) reset(events []Event) {
	bySeq := make(map[int64]Event, len(events))
	for _, e := range events {
		if e.IsEphemeral() {
			continue
		}
		bySeq[e.Seq] = e
	}
	l.events = l.events[:0]
	for _, e := range bySeq {
		l.events = append(l.events, e)
	}
	sort.Slice(l.events, func(i, j int) bool { return l.events[i].Seq < l.events[j].Seq })
	l.reindex()
}

func (l *Log) reindex() {
	clear(l.index)
	for i, e := range l.events {
		l.index[e.Seq] = i
	}
}

// Len returns the number of events.
func (l *Log) Len() int { return len(l.events) }

// Events returns a copy of the log in ascending Seq order.
func (l *Log) Events() []Event { return slices.Clone(l.events) }

// Last returns the newest event.
func (l *Log) Last() (Event, bool) {
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Get returns the event with the given Seq.
func (l *Log) Get(seq int64) (Event, bool) {
	i, ok := l.index[seq]
	if !ok {
		return Event{}, false
	}
	return l.events[i], true
}

// Insert adds a streamed event. It returns false when the event is ephemeral
// or its Seq is already present; in the latter case the stored copy is
// replaced by e.
func (l *Log) Insert(e Event) bool {
	if e.IsEphemeral() {
		return false
	}
	if i, ok := l.index[e.Seq]; ok {
		l.events[i] = e
		return false
	}
	n := len(l.events)
	if n == 0 || l.events[n-1].Seq < e.Seq {
		l.events = append(l.events, e)
		l.index[e.Seq] = n
		return true
	}
	pos, _ := slices.BinarySearchFunc(l.events, e.Seq, func(x Event, seq int64) int {
		switch {
		case x.Seq < seq:
			return -1
		case x.Seq > seq:
			return 1
		}
		return 0
	})
	l.events = slices.Insert(l.events, pos, e)
	l.reindex()
	return true
}

// Merge applies a fetched batch of events that the server returned for
// Seq values above afterSeq. The batch is authoritative for (afterSeq, max]
// where max is the highest Seq fetched: events in that window are replaced by
// the batch, events outside it are kept. An empty batch changes nothing.
func (l *Log) Merge(fetched []Event, afterSeq int64) {
	if len(fetched) == 0 {
		return
	}
	hi := afterSeq
	for _, e := range fetched {
		hi = max(hi, e.Seq)
	}
	merged := make([]Event, 0, len(l.events)+len(fetched))
	for _, e := range l.events {
		if e.Seq <= afterSeq || e.Seq > hi {
			merged = append(merged, e)
		}
	}
	merged = append(merged, fetched...)
	l.reset(merged)
}

// LiveChat derives the live-chat flag from the newest event that affects it.
func (l *Log) LiveChat() bool {
	for i := len(l.events) - 1; i >= 0; i-- {
		if live, ok := l.events[i].LiveChatStatus(); ok {
			return live
		}
	}
	return false
}
