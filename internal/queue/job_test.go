package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJob_Discriminant(t *testing.T) {
	data, err := MarshalJob(RosterUpdateJob{
		EventID:   1,
		CarID:     2,
		OldRiders: []string{"u2"},
		NewRiders: []string{"u2", "u5"},
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "RosterUpdate", m["type"])
	assert.EqualValues(t, 1, m["event_id"])
	assert.EqualValues(t, 2, m["car_id"])
	assert.Equal(t, []any{"u2"}, m["old_riders"])
	assert.Equal(t, []any{"u2", "u5"}, m["new_riders"])
}

func TestUnmarshalJob(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Job
	}{
		{
			name: "join",
			in:   `{"type":"Join","event_id":3,"car_id":4,"rider_id":"jdoe"}`,
			want: JoinJob{EventID: 3, CarID: 4, RiderID: "jdoe"},
		},
		{
			name: "leave",
			in:   `{"type":"Leave","event_id":3,"car_id":4,"rider_id":"jdoe"}`,
			want: LeaveJob{EventID: 3, CarID: 4, RiderID: "jdoe"},
		},
		{
			name: "roster update with empty old roster",
			in:   `{"type":"RosterUpdate","event_id":1,"car_id":9,"old_riders":[],"new_riders":["a"]}`,
			want: RosterUpdateJob{EventID: 1, CarID: 9, OldRiders: []string{}, NewRiders: []string{"a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalJob([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalJob_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"not json":     `{{{`,
		"no type":      `{"event_id":1}`,
		"unknown type": `{"type":"Teleport"}`,
		"wrong shape":  `{"type":"Join","event_id":"one"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalJob([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestMarshalJob_Nil(t *testing.T) {
	_, err := MarshalJob(nil)
	assert.Error(t, err)
}
