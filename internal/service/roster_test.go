package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/queue"
	"github.com/sakif/rideboard/internal/repository"
	"github.com/sakif/rideboard/internal/repository/sqlite"
)

// =========================================================================
// TEST HELPERS
// =========================================================================
//
// The roster engine is tested against the real SQLite store (in memory):
// the interesting behaviour is the interplay of validation and the
// transaction, which a map-backed fake would not exercise.

// fakeJobQueue records jobs instead of pushing them to Redis. Like the real
// client it refuses to push on a cancelled context.
type fakeJobQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (f *fakeJobQueue) InsertJob(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeJobQueue) all() []queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Job(nil), f.jobs...)
}

func newTestStore(t *testing.T, users ...string) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range users {
		u := &model.User{ID: id, Realm: model.RealmCSH, Name: "User " + id, Email: id + "@csh.rit.edu"}
		require.NoError(t, db.Upsert(context.Background(), u))
	}
	return db
}

type rosterFixture struct {
	db    *sqlite.DB
	jobs  *fakeJobQueue
	svc   *RosterService
	event *model.Event
}

func newRosterFixture(t *testing.T, users ...string) *rosterFixture {
	t.Helper()
	db := newTestStore(t, append([]string{"creator"}, users...)...)

	start := time.Now().Add(48 * time.Hour)
	event, err := db.CreateEvent(context.Background(), "creator", model.EventInput{
		Name: "Ski Trip", Location: "Bristol", StartTime: start, EndTime: start.Add(8 * time.Hour),
	})
	require.NoError(t, err)

	jobs := &fakeJobQueue{}
	return &rosterFixture{db: db, jobs: jobs, svc: NewRosterService(db, jobs, discardLogger()), event: event}
}

func car(capacity int, riders ...string) model.CarInput {
	dep := time.Now().Add(24 * time.Hour)
	return model.CarInput{
		MaxCapacity:   capacity,
		DepartureTime: dep,
		ReturnTime:    dep.Add(6 * time.Hour),
		Riders:        riders,
	}
}

func validationMessages(t *testing.T, err error) []string {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected *AppError, got %v", err)
	require.True(t, errors.Is(err, apperror.ErrValidation), "expected validation error, got %v", err)
	return appErr.Messages
}

// =========================================================================
// VALIDATE
// =========================================================================

func TestValidateCar_Order(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	others := []model.Car{
		{ID: 1, Driver: model.User{ID: "d1"}, Riders: []model.User{{ID: "r1"}}},
		{ID: 2, Driver: model.User{ID: "d2"}},
	}

	in := model.CarInput{
		MaxCapacity:   1,
		DepartureTime: now.Add(-time.Hour),
		ReturnTime:    now.Add(-2 * time.Hour),
		Riders:        []string{"me", "r1", "d2"},
	}

	got := ValidateCar(in, "me", others, now)
	assert.Equal(t, []string{
		"Return time cannot be before departure.",
		"Car cannot leave in the past.",
		"You have too many riders for your capacity.",
		"You cannot be a rider in your own car.",
		"r1 is already in another car or is a driver.",
		"d2 is already in another car or is a driver.",
	}, got)
}

func TestValidateCar_Capacity(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	base := model.CarInput{DepartureTime: now.Add(time.Hour), ReturnTime: now.Add(2 * time.Hour)}

	tests := []struct {
		name     string
		capacity int
		riders   []string
		want     []string
	}{
		{name: "zero capacity, no riders", capacity: 0},
		{name: "exactly full", capacity: 2, riders: []string{"a", "b"}},
		{name: "over capacity", capacity: 1, riders: []string{"a", "b"}, want: []string{msgOverCapacity}},
		{name: "negative", capacity: -1, want: []string{msgNegativeCapacity}},
		{name: "very negative, empty roster", capacity: -5, riders: []string{}, want: []string{msgNegativeCapacity}},
		{name: "negative with riders", capacity: -1, riders: []string{"a"}, want: []string{msgNegativeCapacity, msgOverCapacity}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.MaxCapacity = tt.capacity
			in.Riders = tt.riders
			assert.Equal(t, tt.want, ValidateCar(in, "driver", nil, now))
		})
	}
}

// Whatever else is wrong with the car, too many riders always produces the
// capacity message.
func TestValidateCar_OverCapacityAlwaysReported(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		capacity := rng.Intn(4)
		riders := make([]string, capacity+1+rng.Intn(3))
		for j := range riders {
			riders[j] = fmt.Sprintf("u%d", rng.Intn(6))
		}
		in := model.CarInput{
			MaxCapacity:   capacity,
			DepartureTime: now.Add(time.Duration(rng.Intn(48)-24) * time.Hour),
			ReturnTime:    now.Add(time.Duration(rng.Intn(48)-24) * time.Hour),
			Riders:        riders,
		}
		others := []model.Car{{Driver: model.User{ID: fmt.Sprintf("u%d", rng.Intn(6))}}}

		assert.Contains(t, ValidateCar(in, "u0", others, now), msgOverCapacity, "case %d: %+v", i, in)
	}
}

// =========================================================================
// CREATE
// =========================================================================

func TestCreate_RoundTripAndNotifies(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")

	c, err := f.svc.Create(context.Background(), f.event.ID, "u1", car(3, "u2", "u3"))
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Driver.ID)
	assert.Equal(t, "User u1", c.Driver.Name)
	assert.Equal(t, []string{"u2", "u3"}, c.RiderIDs())

	got, err := f.svc.Get(context.Background(), f.event.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.RiderIDs(), got.RiderIDs())
	assert.Equal(t, c.Driver, got.Driver)

	assert.Equal(t, []queue.Job{queue.RosterUpdateJob{
		EventID: f.event.ID, CarID: c.ID, OldRiders: []string{}, NewRiders: []string{"u2", "u3"},
	}}, f.jobs.all())
}

func TestCreate_NoRidersNoJob(t *testing.T) {
	f := newRosterFixture(t, "u1")

	_, err := f.svc.Create(context.Background(), f.event.ID, "u1", car(0))
	require.NoError(t, err)
	assert.Empty(t, f.jobs.all())
}

func TestCreate_DuplicateRidersCollapsed(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2")

	c, err := f.svc.Create(context.Background(), f.event.ID, "u1", car(1, "u2", "u2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, c.RiderIDs())
}

func TestCreate_UnknownRider(t *testing.T) {
	f := newRosterFixture(t, "u1")

	_, err := f.svc.Create(context.Background(), f.event.ID, "u1", car(1, "ghost"))
	assert.Equal(t, []string{"ghost is not a known user."}, validationMessages(t, err))
}

func TestCreate_UnknownEvent(t *testing.T) {
	f := newRosterFixture(t, "u1")

	_, err := f.svc.Create(context.Background(), f.event.ID+100, "u1", car(1))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCreate_DriverAlreadyHasCar(t *testing.T) {
	f := newRosterFixture(t, "u1")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.event.ID, "u1", car(1))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.event.ID, "u1", car(1))
	assert.Equal(t, []string{"u1 is already in another car or is a driver."}, validationMessages(t, err))
}

// =========================================================================
// THE WORKED SCENARIO
// =========================================================================

func TestRosterScenario(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3", "u4", "u5")
	ctx := context.Background()

	// Car A: driver u1, capacity 2, riders [u2].
	a, err := f.svc.Create(ctx, f.event.ID, "u1", car(2, "u2"))
	require.NoError(t, err)

	// Car B by u2, who is already riding in A.
	_, err = f.svc.Create(ctx, f.event.ID, "u2", car(2, "u3"))
	assert.Equal(t, []string{"u2 is already in another car or is a driver."}, validationMessages(t, err))

	// Car C by u4 with u4 as its own rider.
	_, err = f.svc.Create(ctx, f.event.ID, "u4", car(1, "u4"))
	assert.Equal(t, []string{"You cannot be a rider in your own car."}, validationMessages(t, err))

	// Neither failed attempt left a car behind.
	cars, err := f.svc.List(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, cars, 1)

	before := len(f.jobs.all())
	updated, diff, err := f.svc.Update(ctx, f.event.ID, a.ID, "u1", car(2, "u2", "u5"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u5"}, updated.RiderIDs())
	assert.Equal(t, []string{"u5"}, diff.Added)
	assert.Empty(t, diff.Removed)

	jobs := f.jobs.all()
	require.Len(t, jobs, before+1)
	job, ok := jobs[before].(queue.RosterUpdateJob)
	require.True(t, ok)
	assert.Equal(t, model.RiderDiff{Added: []string{"u5"}}, model.DiffRiders(job.OldRiders, job.NewRiders))
	assert.Equal(t, []string{"u2"}, job.OldRiders)
	assert.Equal(t, []string{"u2", "u5"}, job.NewRiders)
}

// =========================================================================
// UPDATE
// =========================================================================

func TestUpdate_SameRosterIsEmptyDiff(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(2, "u2", "u3"))
	require.NoError(t, err)
	before := len(f.jobs.all())

	_, diff, err := f.svc.Update(ctx, f.event.ID, c.ID, "u1", car(2, "u3", "u2"))
	require.NoError(t, err)
	assert.True(t, diff.Empty())
	assert.Len(t, f.jobs.all(), before, "empty diff is not enqueued")
}

func TestUpdate_NotOwner(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "intruder")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(2, "u2"))
	require.NoError(t, err)

	_, _, err = f.svc.Update(ctx, f.event.ID, c.ID, "intruder", car(2))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	// Even an invalid payload from a non-owner reports not found.
	_, _, err = f.svc.Update(ctx, f.event.ID, c.ID, "intruder", car(-1))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	got, err := f.svc.Get(ctx, f.event.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.RiderIDs(), "roster untouched")
}

func TestUpdate_ReduceCapacityBelowRoster(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(2, "u2", "u3"))
	require.NoError(t, err)

	_, _, err = f.svc.Update(ctx, f.event.ID, c.ID, "u1", car(1, "u2", "u3"))
	assert.Equal(t, []string{msgOverCapacity}, validationMessages(t, err))

	// Dropping a rider in the same request makes it fit.
	_, diff, err := f.svc.Update(ctx, f.event.ID, c.ID, "u1", car(1, "u2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, diff.Removed)
}

func TestUpdate_CannotStealRider(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.event.ID, "u1", car(1, "u2"))
	require.NoError(t, err)
	other, err := f.svc.Create(ctx, f.event.ID, "u3", car(1))
	require.NoError(t, err)

	_, _, err = f.svc.Update(ctx, f.event.ID, other.ID, "u3", car(1, "u2"))
	assert.Equal(t, []string{"u2 is already in another car or is a driver."}, validationMessages(t, err))
}

func TestUpdate_EnqueueFailureDoesNotFail(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(1))
	require.NoError(t, err)

	f.jobs.err = errors.New("redis down")
	updated, _, err := f.svc.Update(ctx, f.event.ID, c.ID, "u1", car(1, "u2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, updated.RiderIDs(), "committed despite the enqueue failure")
}

// cancelAfterCommit cancels the caller's context as soon as the transaction
// returns, the way a client hanging up right after the write would.
type cancelAfterCommit struct {
	repository.CarRepository
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithinTx(ctx context.Context, fn func(tx repository.CarTx) error) error {
	err := c.CarRepository.WithinTx(ctx, fn)
	c.cancel()
	return err
}

func TestEnqueue_SurvivesCancelAfterCommit(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")

	createCtx, cancelCreate := context.WithCancel(context.Background())
	defer cancelCreate()
	svc := NewRosterService(cancelAfterCommit{f.db, cancelCreate}, f.jobs, discardLogger())
	c, err := svc.Create(createCtx, f.event.ID, "u1", car(2, "u2"))
	require.NoError(t, err)
	require.Error(t, createCtx.Err(), "context cancelled before the push")

	joinCtx, cancelJoin := context.WithCancel(context.Background())
	defer cancelJoin()
	svc = NewRosterService(cancelAfterCommit{f.db, cancelJoin}, f.jobs, discardLogger())
	require.NoError(t, svc.Join(joinCtx, f.event.ID, c.ID, "u3"))

	jobs := f.jobs.all()
	require.Len(t, jobs, 2)
	assert.IsType(t, queue.RosterUpdateJob{}, jobs[0])
	assert.Equal(t, queue.JoinJob{EventID: f.event.ID, CarID: c.ID, RiderID: "u3"}, jobs[1])
}

// =========================================================================
// DELETE / JOIN / LEAVE
// =========================================================================

func TestDelete(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "intruder")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(1, "u2"))
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, f.event.ID, c.ID, "intruder")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	id, err := f.svc.Delete(ctx, f.event.ID, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	in, err := f.svc.UserInCar(ctx, f.event.ID, "u2")
	require.NoError(t, err)
	assert.False(t, in)
}

func TestJoinAndLeave(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	c, err := f.svc.Create(ctx, f.event.ID, "u1", car(1))
	require.NoError(t, err)

	require.NoError(t, f.svc.Join(ctx, f.event.ID, c.ID, "u2"))

	// Full now.
	err = f.svc.Join(ctx, f.event.ID, c.ID, "u3")
	assert.Equal(t, []string{"This car is full."}, validationMessages(t, err))

	require.NoError(t, f.svc.Leave(ctx, f.event.ID, c.ID, "u2"))
	err = f.svc.Leave(ctx, f.event.ID, c.ID, "u2")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assert.Equal(t, []queue.Job{
		queue.JoinJob{EventID: f.event.ID, CarID: c.ID, RiderID: "u2"},
		queue.LeaveJob{EventID: f.event.ID, CarID: c.ID, RiderID: "u2"},
	}, f.jobs.all())
}

func TestJoin_Rejects(t *testing.T) {
	f := newRosterFixture(t, "u1", "u2", "u3")
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.event.ID, "u1", car(3, "u2"))
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.event.ID, "u3", car(3))
	require.NoError(t, err)

	err = f.svc.Join(ctx, f.event.ID, a.ID, "u1")
	assert.Equal(t, []string{msgSelfAsRider}, validationMessages(t, err))

	err = f.svc.Join(ctx, f.event.ID, b.ID, "u2")
	assert.Equal(t, []string{"u2 is already in another car or is a driver."}, validationMessages(t, err))

	err = f.svc.Join(ctx, f.event.ID, a.ID+b.ID+100, "u2")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// =========================================================================
// EXCLUSIVITY PROPERTY
// =========================================================================

// Drivers repeatedly try to build cars from overlapping random rider pools.
// Whatever subset succeeds, nobody may end up in two cars of the event.
func TestExclusivityHoldsUnderRandomRosters(t *testing.T) {
	users := make([]string, 12)
	for i := range users {
		users[i] = fmt.Sprintf("p%02d", i)
	}
	f := newRosterFixture(t, users...)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for attempt := 0; attempt < 40; attempt++ {
		driver := users[rng.Intn(len(users))]
		riders := make([]string, rng.Intn(4))
		for i := range riders {
			riders[i] = users[rng.Intn(len(users))]
		}

		c, err := f.svc.Create(ctx, f.event.ID, driver, car(3, riders...))
		if err == nil && rng.Intn(2) == 0 {
			// Reshuffle the roster of a car that made it.
			more := []string{users[rng.Intn(len(users))], users[rng.Intn(len(users))]}
			_, _, _ = f.svc.Update(ctx, f.event.ID, c.ID, driver, car(3, more...))
		}
	}

	cars, err := f.svc.List(ctx, f.event.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cars)

	seen := map[string]int64{}
	for _, c := range cars {
		assert.LessOrEqual(t, len(c.Riders), c.MaxCapacity)
		for _, id := range c.Members() {
			prev, dup := seen[id]
			assert.False(t, dup, "%s is in car %d and car %d", id, prev, c.ID)
			seen[id] = c.ID
		}
	}
}
