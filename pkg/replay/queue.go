package replay

import (
	"container/heap"
	"time"
)

// event is one range bar close waiting to be replayed
type event struct {
	end        time.Time
	instrument string
	index      int // position of the bar in its series
}

// eventQueue orders events by bar end time, then instrument, then index
type eventQueue []event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if !q[i].end.Equal(q[j].end) {
		return q[i].end.Before(q[j].end)
	}
	if q[i].instrument != q[j].instrument {
		return q[i].instrument < q[j].instrument
	}
	return q[i].index < q[j].index
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(event))
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// merger yields the bars of several series in global causal order. It
// holds at most one pending event per instrument.
type merger struct {
	q      eventQueue
	series map[string]*Series
}

func newMerger(series map[string]*Series) *merger {
	m := &merger{series: series}
	for name, s := range series {
		if len(s.Bars) > 0 {
			m.q = append(m.q, event{end: s.Bars[0].EndTime, instrument: name, index: 0})
		}
	}
	heap.Init(&m.q)
	return m
}

// next pops the earliest event and schedules that instrument's next bar
func (m *merger) next() (event, bool) {
	if m.q.Len() == 0 {
		return event{}, false
	}
	e := heap.Pop(&m.q).(event)
	s := m.series[e.instrument]
	if e.index+1 < len(s.Bars) {
		heap.Push(&m.q, event{end: s.Bars[e.index+1].EndTime, instrument: e.instrument, index: e.index + 1})
	}
	return e, true
}
