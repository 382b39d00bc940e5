package model

import (
	"strings"
	"time"
)

// Event is the parent entity cars are offered for. Only the creator may
// update or delete it.
type Event struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Creator   User      `json:"creator"`
}

// EventInput is the client-supplied part of an Event.
type EventInput struct {
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// Validate returns every violated rule, in a fixed order. A nil slice means
// the input is acceptable.
func (in EventInput) Validate(now time.Time) []string {
	var errs []string
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, "Missing Name.")
	}
	if strings.TrimSpace(in.Location) == "" {
		errs = append(errs, "Missing Location.")
	}
	if in.StartTime.After(in.EndTime) {
		errs = append(errs, "Start date cannot be after end date.")
	}
	if in.EndTime.Before(now) {
		errs = append(errs, "Event cannot be in the past.")
	}
	return errs
}
