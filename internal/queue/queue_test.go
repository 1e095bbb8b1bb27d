package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	syncengine "github.com/VasulenkoIllia/rozetka-keycrm/internal/sync"
	"github.com/VasulenkoIllia/rozetka-keycrm/pkg/errorutil"
)

// fakeSink captures error log writes for assertions
type fakeSink struct {
	mu       sync.Mutex
	errors   []string
	warnings []string
}

func (s *fakeSink) Error(message, source string, ctx map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
}

func (s *fakeSink) Warning(message, source string, ctx map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, message)
}

func (s *fakeSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func testOptions() Options {
	return Options{
		Concurrency:  2,
		MaxRetries:   2,
		RetryDelay:   10 * time.Millisecond,
		HistoryLimit: 5,
	}
}

func TestQueueProcessesJobToCompletion(t *testing.T) {
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		return &syncengine.Result{
			Updated:       true,
			KeycrmOrderID: 500,
			URLs:          []string{"http://shop/x"},
			Value:         "http://shop/x",
		}, nil
	}
	q := New(testOptions(), handler, nil, nil, nil)

	jobID, err := q.Enqueue(matching.OrderRecord{"event": "order.change_order_status", "order_id": 500}, JobMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 1
	})

	state := q.State()
	assert.Equal(t, 1, state.Stats.Enqueued)
	assert.Equal(t, 1, state.Stats.Processed)
	assert.Equal(t, 0, state.Stats.Failed)
	assert.Empty(t, state.Active)
	assert.Empty(t, state.Pending)

	require.Len(t, state.Recent, 1)
	entry := state.Recent[0]
	assert.Equal(t, jobID, entry.ID)
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.True(t, entry.Updated)
	assert.Equal(t, 500, entry.KeycrmOrderID)
	assert.Equal(t, []string{"http://shop/x"}, entry.URLs)
	assert.NotNil(t, entry.CompletedAt)
}

func TestQueueRetriesWithLinearBackoffThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var calls int
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errorutil.Retriable("temporary failure")
		}
		return &syncengine.Result{Updated: true}, nil
	}
	q := New(testOptions(), handler, nil, nil, nil)

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 1
	})

	state := q.State()
	assert.Equal(t, 1, state.Stats.Retried)
	require.Len(t, state.Recent, 1)
	assert.Equal(t, 2, state.Recent[0].Attempts)
	assert.Equal(t, StatusCompleted, state.Recent[0].Status)
}

func TestQueueExhaustsRetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	var calls int
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("boom")
	}
	sink := &fakeSink{}
	q := New(testOptions(), handler, nil, sink, nil)

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{EventType: "order.change_order_status"})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Failed == 1
	})

	mu.Lock()
	total := calls
	mu.Unlock()
	// initial attempt plus maxRetries retries
	assert.Equal(t, 3, total)

	state := q.State()
	assert.Equal(t, 2, state.Stats.Retried)
	require.Len(t, state.Recent, 1)
	assert.Equal(t, StatusFailed, state.Recent[0].Status)
	assert.Equal(t, 3, state.Recent[0].Attempts)
	assert.Equal(t, "boom", state.Recent[0].Error)
	assert.Equal(t, 1, sink.errorCount())
}

func TestQueueDoesNotRetryNonRetriableErrors(t *testing.T) {
	var mu sync.Mutex
	var calls int
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errorutil.NonRetriable("bad configuration")
	}
	q := New(testOptions(), handler, nil, nil, nil)

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Failed == 1
	})

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, 0, q.State().Stats.Retried)
}

func TestQueueRecoversFromHandlerPanic(t *testing.T) {
	var mu sync.Mutex
	var calls int
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("unexpected payload shape")
		}
		return &syncengine.Result{Updated: true}, nil
	}
	q := New(testOptions(), handler, nil, nil, nil)

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 1
	})
	assert.Equal(t, 1, q.State().Stats.Retried)
}

func TestQueueBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		<-release
		return &syncengine.Result{Updated: true}, nil
	}
	q := New(testOptions(), handler, nil, nil, nil)

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(matching.OrderRecord{"id": i}, JobMeta{})
		require.NoError(t, err)
	}

	waitFor(t, time.Second, func() bool {
		return len(q.State().Active) == 2
	})
	assert.Len(t, q.State().Pending, 2)

	close(release)
	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 4
	})
}

func TestQueueHistoryBoundMostRecentFirst(t *testing.T) {
	opts := testOptions()
	opts.Concurrency = 1
	opts.HistoryLimit = 2

	var mu sync.Mutex
	var order []interface{}
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		mu.Lock()
		order = append(order, payload["id"])
		mu.Unlock()
		return &syncengine.Result{Updated: true, KeycrmOrderID: payload["id"]}, nil
	}
	q := New(opts, handler, nil, nil, nil)

	for i := 1; i <= 3; i++ {
		_, err := q.Enqueue(matching.OrderRecord{"id": i}, JobMeta{})
		require.NoError(t, err)
	}

	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 3
	})

	state := q.State()
	require.Len(t, state.Recent, 2)
	assert.Equal(t, 3, state.Recent[0].KeycrmOrderID)
	assert.Equal(t, 2, state.Recent[1].KeycrmOrderID)
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := New(testOptions(), func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		return &syncengine.Result{Updated: true}, nil
	}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueRejectsNilPayload(t *testing.T) {
	q := New(testOptions(), nil, nil, nil, nil)
	_, err := q.Enqueue(nil, JobMeta{})
	assert.Error(t, err)
}

func TestQueueSnapshotIsACopy(t *testing.T) {
	handler := func(ctx context.Context, payload matching.OrderRecord, meta *JobMeta) (*syncengine.Result, error) {
		return &syncengine.Result{Updated: true}, nil
	}
	q := New(testOptions(), handler, nil, nil, nil)

	_, err := q.Enqueue(matching.OrderRecord{"id": 1}, JobMeta{})
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		return q.State().Stats.Succeeded == 1
	})

	first := q.State()
	first.Recent[0].Status = "tampered"
	first.Stats.Succeeded = 99

	second := q.State()
	assert.Equal(t, StatusCompleted, second.Recent[0].Status)
	assert.Equal(t, 1, second.Stats.Succeeded)
}

func TestBuildPayloadSummary(t *testing.T) {
	payload := matching.OrderRecord{
		"event": "order.change_order_status",
		"order": map[string]interface{}{
			"id":          500,
			"source_uuid": "UUID-9",
			"number":      "RZ-1",
		},
	}

	summary := BuildPayloadSummary(payload)

	assert.Equal(t, "order.change_order_status", summary["event"])
	assert.Equal(t, "500", summary["keycrmOrderId"])
	assert.Equal(t, "UUID-9", summary["rozetkaSourceUuid"])
	assert.Equal(t, "RZ-1", summary["number"])
	assert.Equal(t, "500", summary["rozetkaOrderId"])
}

func TestBuildPayloadSummaryPrefersOrderID(t *testing.T) {
	payload := matching.OrderRecord{
		"order": map[string]interface{}{
			"id":       500,
			"order_id": "RZ-777",
		},
	}

	summary := BuildPayloadSummary(payload)
	assert.Equal(t, "RZ-777", summary["rozetkaOrderId"])
	assert.Equal(t, "500", summary["keycrmOrderId"])
}

func TestBuildPayloadPreviewTruncates(t *testing.T) {
	payload := matching.OrderRecord{"note": fmt.Sprintf("%0200d", 0)}

	preview := BuildPayloadPreview(payload, 50)
	assert.Len(t, []rune(preview), 51)
	assert.Equal(t, "…", string([]rune(preview)[50:]))

	full := BuildPayloadPreview(payload, 10000)
	assert.NotContains(t, full, "…")
}
