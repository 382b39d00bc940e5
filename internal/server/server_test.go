package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/rideboard/internal/auth"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/queue"
	sqliteRepo "github.com/sakif/rideboard/internal/repository/sqlite"
)

type recordingJobs struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (r *recordingJobs) InsertJob(_ context.Context, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type testEnv struct {
	handler http.Handler
	tokens  *auth.TokenService
	jobs    *recordingJobs
	store   *sqliteRepo.DB
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	store, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, id := range users {
		require.NoError(t, store.Upsert(context.Background(), &model.User{
			ID: id, Realm: model.RealmCSH, Name: "User " + id, Email: id + "@csh.rit.edu",
		}))
	}

	tokens, err := auth.NewTokenService("server-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	jobs := &recordingJobs{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Addr: ":0"}, Deps{Store: store, Jobs: jobs, Tokens: tokens}, logger)

	return &testEnv{handler: srv.Handler(), tokens: tokens, jobs: jobs, store: store}
}

func (e *testEnv) request(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		token, err := e.tokens.Generate(model.User{ID: user, Realm: model.RealmCSH, Name: "User " + user})
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeID(t *testing.T, rr *httptest.ResponseRecorder) int64 {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body.ID
}

func TestRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/event", "/api/v1/event/1/car", "/api/v1/user?query=x", "/api/v1/auth/"} {
		rr := env.request(t, "", http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestRoutes_RosterFlow(t *testing.T) {
	env := newTestEnv(t, "u1", "u2", "u3", "u5")
	start := time.Now().Add(48 * time.Hour).UTC()

	eventID := decodeID(t, env.request(t, "u1", http.MethodPost, "/api/v1/event", map[string]interface{}{
		"name": "Ski Trip", "location": "Bristol", "startTime": start, "endTime": start.Add(6 * time.Hour),
	}))

	carInput := func(capacity int, riders ...string) map[string]interface{} {
		dep := time.Now().Add(24 * time.Hour).UTC()
		return map[string]interface{}{
			"maxCapacity": capacity, "departureTime": dep, "returnTime": dep.Add(time.Hour), "riders": riders,
		}
	}
	carsPath := fmt.Sprintf("/api/v1/event/%d/car", eventID)

	carID := decodeID(t, env.request(t, "u1", http.MethodPost, carsPath, carInput(2, "u2")))

	// u2 rides with u1 and cannot also drive.
	rr := env.request(t, "u2", http.MethodPost, carsPath, carInput(2, "u3"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"errors":["u2 is already in another car or is a driver."]}`, rr.Body.String())

	// Someone else cannot touch u1's car.
	carPath := fmt.Sprintf("%s/%d", carsPath, carID)
	rr = env.request(t, "u3", http.MethodPut, carPath, carInput(2))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.request(t, "u1", http.MethodPut, carPath, carInput(2, "u2", "u5"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var car model.Car
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&car))
	assert.Equal(t, []string{"u2", "u5"}, car.RiderIDs())

	// Full now.
	rr = env.request(t, "u3", http.MethodPost, carPath+"/rider", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"errors":["This car is full."]}`, rr.Body.String())

	rr = env.request(t, "u5", http.MethodDelete, carPath+"/rider", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.request(t, "u3", http.MethodGet, carsPath, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cars []model.Car
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&cars))
	require.Len(t, cars, 1)
	assert.Equal(t, []string{"u2"}, cars[0].RiderIDs())

	env.jobs.mu.Lock()
	defer env.jobs.mu.Unlock()
	require.Len(t, env.jobs.jobs, 3)
	assert.IsType(t, queue.RosterUpdateJob{}, env.jobs.jobs[0])
	assert.IsType(t, queue.RosterUpdateJob{}, env.jobs.jobs[1])
	assert.Equal(t, queue.LeaveJob{EventID: eventID, CarID: carID, RiderID: "u5"}, env.jobs.jobs[2])
}

func TestRoutes_CurrentUser(t *testing.T) {
	env := newTestEnv(t, "jdoe")

	rr := env.request(t, "jdoe", http.MethodGet, "/api/v1/auth/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"jdoe","realm":"csh","name":"User jdoe","email":"jdoe@csh.rit.edu"}`, rr.Body.String())
}

func TestStart_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, Deps{Store: env.store, Jobs: env.jobs, Tokens: env.tokens}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
