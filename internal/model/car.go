package model

import (
	"sort"
	"time"
)

// Car is a driver's offer of seats for one event, with its riders resolved
// to full User records.
type Car struct {
	ID            int64     `json:"id"`
	EventID       int64     `json:"eventId"`
	Driver        User      `json:"driver"`
	Riders        []User    `json:"riders"`
	MaxCapacity   int       `json:"maxCapacity"`
	DepartureTime time.Time `json:"departureTime"`
	ReturnTime    time.Time `json:"returnTime"`
	Comment       string    `json:"comment"`
}

// Members returns the IDs of everyone occupying the car: driver first, then
// riders.
func (c Car) Members() []string {
	ids := make([]string, 0, len(c.Riders)+1)
	ids = append(ids, c.Driver.ID)
	for _, r := range c.Riders {
		ids = append(ids, r.ID)
	}
	return ids
}

// RiderIDs returns the rider IDs in roster order.
func (c Car) RiderIDs() []string {
	ids := make([]string, 0, len(c.Riders))
	for _, r := range c.Riders {
		ids = append(ids, r.ID)
	}
	return ids
}

// CarInput is the desired state of a car. Riders is always the complete
// intended roster; updates replace the roster wholesale.
type CarInput struct {
	MaxCapacity   int       `json:"maxCapacity"`
	DepartureTime time.Time `json:"departureTime"`
	ReturnTime    time.Time `json:"returnTime"`
	Comment       string    `json:"comment"`
	Riders        []string  `json:"riders"`
}

// RiderDiff is the before/after difference of a roster replacement.
type RiderDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether the roster did not change.
func (d RiderDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffRiders computes removed = old \ new and added = new \ old. Both
// results are sorted so callers get a deterministic order.
func DiffRiders(oldRiders, newRiders []string) RiderDiff {
	oldSet := make(map[string]struct{}, len(oldRiders))
	for _, id := range oldRiders {
		oldSet[id] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newRiders))
	for _, id := range newRiders {
		newSet[id] = struct{}{}
	}

	var d RiderDiff
	for id := range oldSet {
		if _, ok := newSet[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	for id := range newSet {
		if _, ok := oldSet[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	sort.Strings(d.Removed)
	sort.Strings(d.Added)
	return d
}
