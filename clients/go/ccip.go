// Package ccip defines the shared types for ccip server API clients.
package ccip

import "time"

// Profile is the landing page payload for an attendee token.
type Profile struct {
	Nickname string
}

// Scenario is one rule as seen by an attendee, keyed by rule ID in [Status].
type Scenario struct {
	Order       int
	DisplayText map[string]string
	// AvailableTime and ExpireTime bound when the scenario can be used.
	AvailableTime time.Time
	ExpireTime    time.Time
	// Used is non-nil once the scenario has been consumed.
	Used *time.Time
	// Disabled carries the display text of the lock reason when the
	// scenario is visible but not usable.
	Disabled   *string
	Attributes map[string]any
}

// Status is an attendee's evaluated view of the event.
type Status struct {
	PublicToken string
	UserID      string
	// FirstUse is non-nil once the attendee has checked in.
	FirstUse   *time.Time
	Role       string
	Scenarios  map[string]Scenario
	Attributes map[string]any
}

// Announcement is a single announcement entry, newest first in listings.
type Announcement struct {
	AnnouncedAt time.Time
	MessageEn   string
	MessageZh   string
	URI         string
}
