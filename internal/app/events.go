package app

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rjboer/GoEcho/internal/dsp"
)

// EventState represents the lifecycle of an echo event.
type EventState int

const (
	EventTentative EventState = iota
	EventConfirmed
	EventClosed
)

func (s EventState) String() string {
	switch s {
	case EventTentative:
		return "tentative"
	case EventConfirmed:
		return "confirmed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s EventState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event groups detections of the same reflector across successive frames.
type Event struct {
	ID        int        `json:"id"`
	Delay     int        `json:"delay"`
	DopplerHz float64    `json:"dopplerHz"`
	PeakPower float64    `json:"peakPower"`
	Hits      int        `json:"hits"`
	State     EventState `json:"state"`
	FirstSeen time.Time  `json:"firstSeen"`
	LastSeen  time.Time  `json:"lastSeen"`
	// Delays holds the most recent delays, oldest first.
	Delays []int `json:"delays"`
}

// EventOptions bounds how detections are associated into events.
type EventOptions struct {
	MaxEvents        int
	Timeout          time.Duration
	DelayTolerance   int
	DopplerTolerance float64
	ConfirmHits      int
	HistoryLimit     int
}

// EventManager manages creation and lifecycle of echo events. It is safe for concurrent use.
type EventManager struct {
	mu     sync.Mutex
	events map[int]*Event
	order  []int
	nextID int
	opts   EventOptions
}

// NewEventManager creates an event manager; non-positive limits fall back to one event and
// two confirming hits.
func NewEventManager(opts EventOptions) *EventManager {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 1
	}
	if opts.ConfirmHits <= 0 {
		opts.ConfirmHits = 2
	}
	return &EventManager{
		events: make(map[int]*Event),
		nextID: 1,
		opts:   opts,
	}
}

// Observe associates a detection with the closest open event within tolerance, or opens a
// new event, evicting the oldest when at capacity. It returns a snapshot of the event.
func (em *EventManager) Observe(p dsp.Peak, now time.Time) Event {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.expire(now)
	return em.observe(p, now).snapshot()
}

// ObserveFrame associates all detections of one frame, strongest first. Within a frame,
// detections within the delay tolerance of an event already updated by a stronger
// detection are the Doppler spread of the same reflector and do not update it again.
// The returned events are in the order of peaks.
func (em *EventManager) ObserveFrame(peaks []dsp.Peak, now time.Time) []Event {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.expire(now)

	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return peaks[order[a]].Power > peaks[order[b]].Power })

	assigned := make([]*Event, len(peaks))
	var touched []*Event
	for _, i := range order {
		p := peaks[i]
		if ev := nearestDelay(touched, p.Delay, em.opts.DelayTolerance); ev != nil {
			assigned[i] = ev
			continue
		}
		ev := em.observe(p, now)
		touched = append(touched, ev)
		assigned[i] = ev
	}

	out := make([]Event, len(peaks))
	for i, ev := range assigned {
		out[i] = ev.snapshot()
	}
	return out
}

func (em *EventManager) observe(p dsp.Peak, now time.Time) *Event {
	ev := em.findMatch(p)
	if ev == nil {
		if len(em.events) >= em.opts.MaxEvents {
			em.dropOldest()
		}
		return em.newEvent(p, now)
	}
	ev.Delay = p.Delay
	ev.DopplerHz = p.DopplerHz
	ev.PeakPower = p.Power
	ev.Hits++
	ev.LastSeen = now
	if ev.State == EventTentative && ev.Hits >= em.opts.ConfirmHits {
		ev.State = EventConfirmed
	}
	ev.Delays = append(ev.Delays, p.Delay)
	if em.opts.HistoryLimit > 0 && len(ev.Delays) > em.opts.HistoryLimit {
		ev.Delays = ev.Delays[len(ev.Delays)-em.opts.HistoryLimit:]
	}
	return ev
}

func nearestDelay(events []*Event, delay, tolerance int) *Event {
	var (
		best      *Event
		bestDelta = tolerance + 1
	)
	for _, ev := range events {
		d := ev.Delay - delay
		if d < 0 {
			d = -d
		}
		if d < bestDelta {
			best, bestDelta = ev, d
		}
	}
	return best
}

// Expire closes events not seen within the timeout.
func (em *EventManager) Expire(now time.Time) {
	em.mu.Lock()
	em.expire(now)
	em.mu.Unlock()
}

// Events returns a copy of managed events ordered by creation.
func (em *EventManager) Events() []Event {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := make([]Event, 0, len(em.events))
	for _, id := range em.order {
		if ev, ok := em.events[id]; ok {
			out = append(out, ev.snapshot())
		}
	}
	return out
}

func (em *EventManager) newEvent(p dsp.Peak, now time.Time) *Event {
	id := em.nextID
	em.nextID++
	ev := &Event{
		ID:        id,
		Delay:     p.Delay,
		DopplerHz: p.DopplerHz,
		PeakPower: p.Power,
		Hits:      1,
		State:     EventTentative,
		FirstSeen: now,
		LastSeen:  now,
		Delays:    []int{p.Delay},
	}
	if em.opts.ConfirmHits <= 1 {
		ev.State = EventConfirmed
	}
	em.events[id] = ev
	em.order = append(em.order, id)
	return ev
}

// findMatch returns the open event nearest to p, measuring distance in tolerance units.
func (em *EventManager) findMatch(p dsp.Peak) *Event {
	var (
		best      *Event
		bestScore = math.MaxFloat64
	)
	for _, id := range em.order {
		ev, ok := em.events[id]
		if !ok || ev.State == EventClosed {
			continue
		}
		dDelay := math.Abs(float64(ev.Delay - p.Delay))
		dDoppler := math.Abs(ev.DopplerHz - p.DopplerHz)
		if dDelay > float64(em.opts.DelayTolerance) || dDoppler > em.opts.DopplerTolerance {
			continue
		}
		score := dDelay/math.Max(float64(em.opts.DelayTolerance), 1) + dDoppler/math.Max(em.opts.DopplerTolerance, 1)
		if score < bestScore {
			best = ev
			bestScore = score
		}
	}
	return best
}

func (em *EventManager) dropOldest() {
	for len(em.order) > 0 {
		id := em.order[0]
		em.order = em.order[1:]
		if _, ok := em.events[id]; ok {
			delete(em.events, id)
			return
		}
	}
}

func (em *EventManager) expire(now time.Time) {
	if em.opts.Timeout <= 0 {
		return
	}
	for _, ev := range em.events {
		if ev.State != EventClosed && now.Sub(ev.LastSeen) > em.opts.Timeout {
			ev.State = EventClosed
		}
	}
}

func (ev *Event) snapshot() Event {
	out := *ev
	out.Delays = append([]int(nil), ev.Delays...)
	return out
}
