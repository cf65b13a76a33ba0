package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/monitoring"
)

type MockRunner struct {
	mu       sync.Mutex
	Triggers []string
	// Block, when set, holds each run until it is closed.
	Block   chan struct{}
	Started chan struct{}
}

func (m *MockRunner) Run(ctx context.Context, trigger string) model.RunSummary {
	m.mu.Lock()
	m.Triggers = append(m.Triggers, trigger)
	n := len(m.Triggers)
	m.mu.Unlock()
	if m.Started != nil {
		m.Started <- struct{}{}
	}
	if m.Block != nil {
		<-m.Block
	}
	return model.RunSummary{RunID: "run-" + strconv.Itoa(n), Trigger: trigger, JobsCompleted: 1}
}

func (m *MockRunner) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Triggers)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestCreateRunReturnsSummary(t *testing.T) {
	runner := &MockRunner{}
	s := NewServer(runner, nil, logging.NewNop())
	r := s.SetupRouter()

	w := do(r, http.MethodPost, "/runs")

	require.Equal(t, http.StatusOK, w.Code)
	var summary model.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "manual", summary.Trigger)

	w = do(r, http.MethodGet, "/runs/latest")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)
}

func TestLatestRunBeforeAnyRun(t *testing.T) {
	s := NewServer(&MockRunner{}, nil, logging.NewNop())

	w := do(s.SetupRouter(), http.MethodGet, "/runs/latest")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	runner := &MockRunner{Block: make(chan struct{}), Started: make(chan struct{}, 1)}
	s := NewServer(runner, nil, logging.NewNop())
	r := s.SetupRouter()

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- do(r, http.MethodPost, "/runs") }()
	<-runner.Started

	w := do(r, http.MethodPost, "/runs")
	assert.Equal(t, http.StatusConflict, w.Code)

	health := do(r, http.MethodGet, "/healthz")
	assert.Contains(t, health.Body.String(), `"running":true`)

	close(runner.Block)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, runner.Count())
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := monitoring.NewMetricsCollector("driftwatch", "test")
	s := NewServer(&MockRunner{}, metrics, logging.NewNop())
	r := s.SetupRouter()

	do(r, http.MethodGet, "/healthz")
	w := do(r, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "driftwatch_http_requests_total"))
}

func TestScheduleRunsOnStartAndTicks(t *testing.T) {
	runner := &MockRunner{}
	s := NewServer(runner, nil, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Schedule(ctx, 10*time.Millisecond, true)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runner.Count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, trigger := range runner.Triggers {
		assert.Equal(t, "schedule", trigger)
	}
}

func TestScheduleDisabled(t *testing.T) {
	runner := &MockRunner{}
	s := NewServer(runner, nil, logging.NewNop())

	s.Schedule(context.Background(), 0, true)

	assert.Equal(t, 1, runner.Count())
	_, ok := s.Latest()
	assert.True(t, ok)
}
