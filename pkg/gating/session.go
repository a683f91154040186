package gating

import (
	"fmt"
	"time"
)

// Session is a named UTC trading session
type Session string

const (
	Tokyo    Session = "Tokyo"
	London   Session = "London"
	NewYork  Session = "NY"
	Overlap  Session = "Overlap"
	OffHours Session = "Off-Hours"
)

// Sessions is the set of sessions active at one instant
type Sessions map[Session]bool

// ActiveSessions returns every session open at t. Sessions overlap, so a
// time can belong to several.
func ActiveSessions(t time.Time) Sessions {
	h := t.UTC().Hour()
	s := make(Sessions)
	if h < 9 {
		s[Tokyo] = true
	}
	if h >= 7 && h < 16 {
		s[London] = true
	}
	if h >= 12 && h < 21 {
		s[NewYork] = true
	}
	if h >= 12 && h < 16 {
		s[Overlap] = true
	}
	if h >= 21 {
		s[OffHours] = true
	}
	if len(s) == 0 {
		s[OffHours] = true
	}
	return s
}

// Tag returns the primary session name for records
func Tag(t time.Time) Session {
	s := ActiveSessions(t)
	for _, name := range []Session{Overlap, London, NewYork, Tokyo, OffHours} {
		if s[name] {
			return name
		}
	}
	return OffHours
}

// Window is an hour range [Start, End) in UTC
type Window struct {
	Start int
	End   int
}

// Contains reports whether t's UTC hour is inside the window
func (w Window) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= w.Start && h < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d-%02d", w.Start, w.End)
}

// Policy is a module's session rule. It returns an empty reason when the
// time is allowed.
type Policy interface {
	Allow(instrument string, t time.Time) (bool, string)
}

// MajorSessionPolicy requires London or New York to be open
type MajorSessionPolicy struct{}

// Allow implements Policy
func (MajorSessionPolicy) Allow(instrument string, t time.Time) (bool, string) {
	s := ActiveSessions(t)
	if s[London] || s[NewYork] {
		return true, ""
	}
	if s[Tokyo] {
		return false, "Tokyo-only"
	}
	return false, "no major session"
}

// WindowPolicy allows only the listed hour windows
type WindowPolicy struct {
	Windows []Window
}

// Allow implements Policy
func (wp WindowPolicy) Allow(instrument string, t time.Time) (bool, string) {
	for _, w := range wp.Windows {
		if w.Contains(t) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("hour %02d outside %v", t.UTC().Hour(), wp.Windows)
}

// SoftPolicy never blocks unless Hard is set, in which case the
// London/New York overlap is refused.
type SoftPolicy struct {
	Hard bool
}

// Allow implements Policy
func (sp SoftPolicy) Allow(instrument string, t time.Time) (bool, string) {
	if sp.Hard && ActiveSessions(t)[Overlap] {
		return false, "London/NY overlap"
	}
	return true, ""
}
