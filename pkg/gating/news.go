// Package gating provides the exogenous trade gates: economic news
// blackouts and trading-session windows.
package gating

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Impact is an economic event's importance
type Impact string

const (
	ImpactHigh   Impact = "HIGH"
	ImpactMedium Impact = "MEDIUM"
	ImpactLow    Impact = "LOW"
)

// Blackout windows around events, and the cooling period after HIGH events
const (
	HighBlockBefore   = 30 * time.Minute
	HighBlockAfter    = 15 * time.Minute
	MediumBlockBefore = 15 * time.Minute
	MediumBlockAfter  = 10 * time.Minute
	PostEventCooling  = 15 * time.Minute
)

// Event is one calendar entry
type Event struct {
	ID       string    `json:"event_id"`
	Name     string    `json:"name"`
	Currency string    `json:"currency"`
	Impact   Impact    `json:"impact"`
	Time     time.Time `json:"time_utc"`
}

type rawEvent struct {
	ID       string `json:"event_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Impact   string `json:"impact"`
	Time     string `json:"time_utc"`
}

var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Calendar answers blackout queries over a fixed set of events
type Calendar struct {
	events []Event
}

// NewCalendar creates a calendar sorted by event time
func NewCalendar(events []Event) *Calendar {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &Calendar{events: sorted}
}

// LoadCalendar reads a JSON array of events. A missing file disables news
// gating with a warning instead of failing the run.
func LoadCalendar(path string, logger *zap.Logger) (*Calendar, error) {
	if path == "" {
		return NewCalendar(nil), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("[NEWS] events file not found, news gating disabled", zap.String("path", path))
		return NewCalendar(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read news events: %w", err)
	}

	var raw []rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse news events %s: %w", path, err)
	}
	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		ts, err := parseEventTime(r.Time)
		if err != nil {
			return nil, fmt.Errorf("news event %d (%s): %w", i, r.ID, err)
		}
		events = append(events, Event{
			ID:       r.ID,
			Name:     r.Name,
			Currency: strings.ToUpper(r.Currency),
			Impact:   Impact(strings.ToUpper(r.Impact)),
			Time:     ts,
		})
	}
	logger.Info("[NEWS] loaded events", zap.Int("count", len(events)), zap.String("path", path))
	return NewCalendar(events), nil
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised event time %q", s)
}

// Len returns the number of events
func (c *Calendar) Len() int {
	return len(c.events)
}

// Blocked returns the event blacking out instrument at t, if any. Only
// events in one of the pair's two currencies apply.
func (c *Calendar) Blocked(instrument string, t time.Time) (Event, bool) {
	for _, e := range c.events {
		before, after := window(e.Impact)
		if before == 0 && after == 0 {
			continue
		}
		if !affects(e, instrument) {
			continue
		}
		if !t.Before(e.Time.Add(-before)) && !t.After(e.Time.Add(after)) {
			return e, true
		}
	}
	return Event{}, false
}

// PostEventCooling reports whether t falls in the cooling period following
// a HIGH event's blackout for instrument.
func (c *Calendar) PostEventCooling(instrument string, t time.Time) bool {
	for _, e := range c.events {
		if e.Impact != ImpactHigh || !affects(e, instrument) {
			continue
		}
		start := e.Time.Add(HighBlockAfter)
		end := start.Add(PostEventCooling)
		if !t.Before(start) && !t.After(end) {
			return true
		}
	}
	return false
}

// Upcoming returns events for instrument within the horizon after t
func (c *Calendar) Upcoming(instrument string, t time.Time, horizon time.Duration) []Event {
	var out []Event
	for _, e := range c.events {
		if e.Time.Before(t) || e.Time.After(t.Add(horizon)) {
			continue
		}
		if affects(e, instrument) {
			out = append(out, e)
		}
	}
	return out
}

func window(impact Impact) (before, after time.Duration) {
	switch impact {
	case ImpactHigh:
		return HighBlockBefore, HighBlockAfter
	case ImpactMedium:
		return MediumBlockBefore, MediumBlockAfter
	}
	return 0, 0
}

func affects(e Event, instrument string) bool {
	if len(instrument) != 6 {
		return false
	}
	inst := strings.ToUpper(instrument)
	return inst[:3] == e.Currency || inst[3:] == e.Currency
}
