// Package offline persists punch operations that failed on network errors and
// replays them later. The queue lives in a single namespaced blob that is
// overwritten wholesale on every mutation, so it survives process restarts.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type TaskType string

const (
	TaskPunchIn  TaskType = "punchIn"
	TaskPunchOut TaskType = "punchOut"
)

// Task is one queued retry unit.
type Task struct {
	ID        string          `json:"id"`
	Type      TaskType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"` // epoch ms
}

// BlobStore holds the queue's single persisted blob.
type BlobStore interface {
	Get() ([]byte, error)
	Set([]byte) error
}

// Handler replays one task. A nil return removes the task from the queue.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Result summarizes one Process run.
type Result struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
	Errors    int `json:"errors"`
}

type Queue struct {
	mu    sync.Mutex
	store BlobStore
	tasks []Task
}

// NewQueue loads any previously persisted tasks from the store.
func NewQueue(store BlobStore) (*Queue, error) {
	q := &Queue{store: store}
	raw, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &q.tasks); err != nil {
			return nil, fmt.Errorf("decode offline queue: %w", err)
		}
	}
	return q, nil
}

// Enqueue appends a task and persists the queue.
func (q *Queue) Enqueue(typ TaskType, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode payload: %w", err)
	}
	task := Task{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		CreatedAt: time.Now().UnixMilli(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	if err := q.persistLocked(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// persistLocked writes the whole queue blob to the store. Callers must hold q.mu.
func (q *Queue) persistLocked() error {
	raw, err := json.Marshal(q.tasks)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.store.Set(raw); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}

// PeekAll returns a snapshot of the queue without side effects.
func (q *Queue) PeekAll() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Remove deletes a task by id and persists the queue.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	q.tasks = kept
	return q.persistLocked()
}

// Clear drops all tasks.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
	return q.persistLocked()
}

// Len reports the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Process replays a snapshot of the queue in enqueue order. Tasks whose
// handler succeeds are removed immediately; failed tasks stay for the next
// run. Tasks enqueued while processing runs are not part of this run's
// snapshot. Tasks with no registered handler are dropped.
func (q *Queue) Process(ctx context.Context, handlers map[TaskType]Handler) Result {
	snapshot := q.PeekAll()
	res := Result{}
	for _, t := range snapshot {
		if err := ctx.Err(); err != nil {
			break
		}
		if h, ok := handlers[t.Type]; ok {
			if err := h(ctx, t.Payload); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Str("type", string(t.Type)).
					Msg("offline task replay failed, keeping in queue")
				res.Errors++
				continue
			}
		}
		if err := q.Remove(t.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("task", t.ID).Msg("failed to remove replayed task")
		}
		res.Processed++
	}
	res.Remaining = q.Len()
	return res
}
