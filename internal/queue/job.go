// Package queue hands roster changes from the HTTP side to the notification
// worker through a Redis-backed work queue.
package queue

import (
	"encoding/json"
	"fmt"
)

// Job is one of JoinJob, LeaveJob or RosterUpdateJob. The unexported method
// closes the set so a type switch over the three is exhaustive.
type Job interface {
	kind() string
}

// JoinJob is enqueued after a rider adds themselves to a car.
type JoinJob struct {
	EventID int64  `json:"event_id"`
	CarID   int64  `json:"car_id"`
	RiderID string `json:"rider_id"`
}

// LeaveJob is enqueued after a rider removes themselves from a car.
type LeaveJob struct {
	EventID int64  `json:"event_id"`
	CarID   int64  `json:"car_id"`
	RiderID string `json:"rider_id"`
}

// RosterUpdateJob carries a driver's full before/after roster. The worker
// notifies only the difference.
type RosterUpdateJob struct {
	EventID   int64    `json:"event_id"`
	CarID     int64    `json:"car_id"`
	OldRiders []string `json:"old_riders"`
	NewRiders []string `json:"new_riders"`
}

const (
	kindJoin         = "Join"
	kindLeave        = "Leave"
	kindRosterUpdate = "RosterUpdate"
)

func (JoinJob) kind() string         { return kindJoin }
func (LeaveJob) kind() string        { return kindLeave }
func (RosterUpdateJob) kind() string { return kindRosterUpdate }

// MarshalJob encodes a job as a flat JSON object with a "type" discriminant:
//
//	{"type":"Join","event_id":1,"car_id":2,"rider_id":"jdoe"}
func MarshalJob(job Job) ([]byte, error) {
	if job == nil {
		return nil, fmt.Errorf("queue: marshal nil job")
	}

	fields, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal %s job: %w", job.kind(), err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("queue: marshal %s job: %w", job.kind(), err)
	}
	m["type"] = json.RawMessage(`"` + job.kind() + `"`)

	return json.Marshal(m)
}

// UnmarshalJob is the inverse of MarshalJob. Unknown discriminants and
// malformed bodies are errors; the worker treats them as permanent.
func UnmarshalJob(data []byte) (Job, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("queue: decode job: %w", err)
	}

	var (
		job Job
		err error
	)
	switch head.Type {
	case kindJoin:
		var j JoinJob
		err = json.Unmarshal(data, &j)
		job = j
	case kindLeave:
		var j LeaveJob
		err = json.Unmarshal(data, &j)
		job = j
	case kindRosterUpdate:
		var j RosterUpdateJob
		err = json.Unmarshal(data, &j)
		job = j
	default:
		return nil, fmt.Errorf("queue: decode job: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("queue: decode %s job: %w", head.Type, err)
	}
	return job, nil
}
