package filter

import (
	"time"

	"menubot/pkg/bus"
	"menubot/pkg/menu"
)

// DefaultMaxAge is the stale-message guard applied when no explicit age is configured.
const DefaultMaxAge = 30 * time.Second

// Reason names why an event was rejected.
type Reason string

const (
	ReasonAccepted  Reason = ""
	ReasonNotDirect Reason = "not_direct"
	ReasonFromSelf  Reason = "from_self"
	ReasonStale     Reason = "stale"
)

// Verdict is the filter outcome. Text is the normalized body of accepted events.
type Verdict struct {
	Accepted bool
	Reason   Reason
	Text     string
}

// Filter decides which inbound events reach the router.
type Filter struct {
	maxAge time.Duration
	now    func() time.Time
}

// New builds a filter rejecting events at least maxAge old. A nil now uses time.Now.
func New(maxAge time.Duration, now func() time.Time) *Filter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return &Filter{maxAge: maxAge, now: now}
}

// Evaluate applies the checks in order: channel kind, self origin, then age.
func (f *Filter) Evaluate(ev bus.InboundEvent) Verdict {
	if ev.ChatKind != bus.ChatDirect {
		return Verdict{Reason: ReasonNotDirect}
	}

	if ev.FromSelf {
		return Verdict{Reason: ReasonFromSelf}
	}

	if ev.Timestamp <= 0 {
		return Verdict{Reason: ReasonStale}
	}
	age := f.now().Unix() - ev.Timestamp
	if age >= int64(f.maxAge/time.Second) {
		return Verdict{Reason: ReasonStale}
	}

	return Verdict{Accepted: true, Text: menu.Normalize(ev.Text)}
}
