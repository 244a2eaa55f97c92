package offline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	blob []byte
}

func (s *memStore) Get() ([]byte, error) { return s.blob, nil }
func (s *memStore) Set(b []byte) error { s.blob = b; return nil }

func TestEnqueuePersistsAndReloads(t *testing.T) {
	store := &memStore{}
	q, err := NewQueue(store)
	require.NoError(t, err)

	_, err = q.Enqueue(TaskPunchIn, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	_, err = q.Enqueue(TaskPunchOut, map[string]string{"userId": "u1", "sessionId": "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())

	// A new queue over the same store sees the same tasks.
	q2, err := NewQueue(store)
	require.NoError(t, err)
	require.Equal(t, 2, q2.Len())

	tasks := q2.PeekAll()
	assert.Equal(t, TaskPunchIn, tasks[0].Type)
	assert.Equal(t, TaskPunchOut, tasks[1].Type)
}

func TestProcessKeepsFailedTasks(t *testing.T) {
	q, err := NewQueue(&memStore{})
	require.NoError(t, err)

	_, err = q.Enqueue(TaskPunchIn, map[string]string{"userId": "fail"})
	require.NoError(t, err)
	_, err = q.Enqueue(TaskPunchOut, map[string]string{"userId": "ok"})
	require.NoError(t, err)

	res := q.Process(context.Background(), map[TaskType]Handler{
		TaskPunchIn: func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("still offline")
		},
		TaskPunchOut: func(ctx context.Context, payload json.RawMessage) error {
			return nil
		},
	})

	assert.Equal(t, Result{Processed: 1, Remaining: 1, Errors: 1}, res)

	remaining := q.PeekAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, TaskPunchIn, remaining[0].Type)
}

func TestProcessDropsUnknownTaskTypes(t *testing.T) {
	q, err := NewQueue(&memStore{})
	require.NoError(t, err)

	_, err = q.Enqueue(TaskType("legacy"), map[string]string{})
	require.NoError(t, err)

	res := q.Process(context.Background(), map[TaskType]Handler{})
	assert.Equal(t, Result{Processed: 1, Remaining: 0, Errors: 0}, res)
	assert.Equal(t, 0, q.Len())
}

func TestProcessStopsOnCancelledContext(t *testing.T) {
	q, err := NewQueue(&memStore{})
	require.NoError(t, err)
	_, err = q.Enqueue(TaskPunchIn, map[string]string{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := q.Process(ctx, map[TaskType]Handler{
		TaskPunchIn: func(context.Context, json.RawMessage) error { return nil },
	})
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Remaining)
}

func TestProcessSnapshotExcludesNewTasks(t *testing.T) {
	q, err := NewQueue(&memStore{})
	require.NoError(t, err)
	_, err = q.Enqueue(TaskPunchIn, map[string]string{})
	require.NoError(t, err)

	res := q.Process(context.Background(), map[TaskType]Handler{
		TaskPunchIn: func(ctx context.Context, payload json.RawMessage) error {
			// Enqueued mid-run, must survive untouched.
			_, err := q.Enqueue(TaskPunchOut, map[string]string{})
			return err
		},
	})
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Remaining)

	remaining := q.PeekAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, TaskPunchOut, remaining[0].Type)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.json")
	store := NewFileStore(path)

	// Missing file reads as empty, not an error.
	blob, err := store.Get()
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, store.Set([]byte(`[{"id":"a"}]`)))
	blob, err = store.Get()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a"}]`, string(blob))
}

func TestClear(t *testing.T) {
	store := &memStore{}
	q, err := NewQueue(store)
	require.NoError(t, err)
	_, err = q.Enqueue(TaskPunchIn, map[string]string{})
	require.NoError(t, err)

	require.NoError(t, q.Clear())
	assert.Equal(t, 0, q.Len())

	q2, err := NewQueue(store)
	require.NoError(t, err)
	assert.Equal(t, 0, q2.Len())
}
