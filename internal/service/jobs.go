package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/queue"
)

const (
	statusProcessing = "Processing document"
	statusInserting  = "Inserting into vector database"
	probeInterval    = 50 * time.Millisecond
)

var (
	errIllegalTransition = errors.New("illegal task state transition")
	errTaskPanicked      = errors.New("task panicked")
)

// Ingester produces embedded documents for one file.
type Ingester interface {
	Process(ctx context.Context, p models.TaskPayload) ([]models.DocumentInput, error)
}

// TaskManager owns the lifecycle of ingestion tasks: it accepts them, runs
// them on a worker and answers status polls.
type TaskManager struct {
	broker  queue.Broker
	backend queue.Backend
	ingest  Ingester
	store   DocumentStore
	probe   time.Duration
	metrics *metrics.Collector
	log     *slog.Logger

	now    func() time.Time
	remove func(string) error
}

// NewTaskManager wires a task manager. probe bounds how long Poll waits for
// an unknown task id to appear.
func NewTaskManager(broker queue.Broker, backend queue.Backend, ingest Ingester, store DocumentStore, probe time.Duration, collector *metrics.Collector) *TaskManager {
	return &TaskManager{
		broker:  broker,
		backend: backend,
		ingest:  ingest,
		store:   store,
		probe:   probe,
		metrics: collector,
		log:     slog.Default().With("component", "tasks"),
		now:     time.Now,
		remove:  os.Remove,
	}
}

// Enqueue validates p, records it as PENDING and publishes it. A missing
// TaskID is generated. It returns as soon as the broker has the payload.
func (m *TaskManager) Enqueue(ctx context.Context, p models.TaskPayload) (models.TaskPayload, error) {
	if p.TaskID == "" {
		p.TaskID = uuid.NewString()
	}
	if err := models.ValidateOrganizationName(p.OrganizationID); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if info, err := os.Stat(p.FilePath); err != nil {
		return p, fmt.Errorf("%w: file %s: %w", ErrInvalidInput, p.FilePath, err)
	} else if info.IsDir() {
		return p, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, p.FilePath)
	}

	now := m.now()
	err := m.backend.Create(ctx, models.TaskRecord{
		TaskID:         p.TaskID,
		State:          models.TaskPending,
		Total:          1,
		FilePath:       p.FilePath,
		OrganizationID: p.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if errors.Is(err, queue.ErrExists) {
		return p, fmt.Errorf("%w: task id %s already in use", ErrInvalidInput, p.TaskID)
	}
	if err != nil {
		return p, fmt.Errorf("record task: %w", err)
	}

	if err := m.broker.Publish(ctx, p); err != nil {
		m.fail(ctx, p.TaskID, err)
		return p, fmt.Errorf("enqueue task %s: %w", p.TaskID, err)
	}

	m.metrics.RecordTask(string(models.TaskPending))
	m.log.Info("task queued", "task_id", p.TaskID, "organization_id", p.OrganizationID, "file", p.FilePath)
	return p, nil
}

// Run executes one task. A task whose record is already terminal is
// skipped. Any stage error or panic marks the task FAILURE and is returned.
// The input file is removed on every path.
func (m *TaskManager) Run(ctx context.Context, p models.TaskPayload) (err error) {
	log := m.log.With("task_id", p.TaskID, "organization_id", p.OrganizationID)
	start := m.now()
	defer m.cleanup(log, p.FilePath)
	defer func() {
		if r := recover(); r != nil {
			err = m.fail(ctx, p.TaskID, fmt.Errorf("%w: %v", errTaskPanicked, r))
		}
	}()

	rec, err := m.backend.Get(ctx, p.TaskID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		// record expired or payload was published by another producer
		now := m.now()
		rec = models.TaskRecord{TaskID: p.TaskID, State: models.TaskPending, FilePath: p.FilePath, OrganizationID: p.OrganizationID, CreatedAt: now, UpdatedAt: now}
		if cerr := m.backend.Create(ctx, rec); cerr != nil && !errors.Is(cerr, queue.ErrExists) {
			return fmt.Errorf("record task: %w", cerr)
		}
	case err != nil:
		return fmt.Errorf("load task: %w", err)
	}
	if rec.State.Terminal() {
		log.Info("task already finished, skipping redelivery", "state", rec.State)
		return nil
	}

	rec, err = m.transition(ctx, p.TaskID, models.TaskProgress, func(r *models.TaskRecord) {
		r.Attempt++
		r.Current, r.Total, r.Status = 1, 2, statusProcessing
	})
	if err != nil {
		return m.fail(ctx, p.TaskID, err)
	}
	if rec.Attempt > 1 {
		log.Warn("re-running redelivered task, documents may be inserted twice", "attempt", rec.Attempt)
	}
	log.Info("task started", "attempt", rec.Attempt)

	docs, err := m.ingest.Process(ctx, p)
	if err != nil {
		return m.fail(ctx, p.TaskID, err)
	}

	if _, err := m.transition(ctx, p.TaskID, models.TaskProgress, func(r *models.TaskRecord) {
		r.Current, r.Total, r.Status = 2, 2, statusInserting
	}); err != nil {
		return m.fail(ctx, p.TaskID, err)
	}

	if err := m.store.InsertDocuments(ctx, docs); err != nil {
		return m.fail(ctx, p.TaskID, fmt.Errorf("insert documents: %w", err))
	}

	if _, err := m.transition(ctx, p.TaskID, models.TaskSuccess, func(r *models.TaskRecord) {
		r.Current, r.Total, r.Status = 1, 1, "success"
		r.Result = &models.TaskResult{Status: "success", TaskID: p.TaskID}
	}); err != nil {
		return m.fail(ctx, p.TaskID, err)
	}

	m.metrics.RecordTiming(metrics.OpIngest, m.now().Sub(start), nil)
	m.metrics.RecordTask(string(models.TaskSuccess))
	log.Info("task completed", "documents", len(docs), "duration_ms", m.now().Sub(start).Milliseconds())
	return nil
}

// Poll returns the client view of a task. Unknown ids are retried until the
// probe window closes, then ErrTaskNotFound is returned.
func (m *TaskManager) Poll(ctx context.Context, taskID string) (models.TaskStatus, error) {
	deadline := m.now().Add(m.probe)
	for {
		rec, err := m.backend.Get(ctx, taskID)
		if err == nil {
			return rec.StatusView(), nil
		}
		if !errors.Is(err, queue.ErrNotFound) {
			return models.TaskStatus{}, fmt.Errorf("poll task %s: %w", taskID, err)
		}
		if !m.now().Before(deadline) {
			return models.TaskStatus{}, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
		}
		select {
		case <-ctx.Done():
			return models.TaskStatus{}, ctx.Err()
		case <-time.After(probeInterval):
		}
	}
}

func (m *TaskManager) transition(ctx context.Context, taskID string, next models.TaskState, apply func(*models.TaskRecord)) (models.TaskRecord, error) {
	return m.backend.Update(ctx, taskID, func(r *models.TaskRecord) error {
		if !r.State.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", errIllegalTransition, r.State, next)
		}
		r.State = next
		apply(r)
		r.UpdatedAt = m.now()
		return nil
	})
}

// fail records cause as the task's FAILURE and returns it.
func (m *TaskManager) fail(ctx context.Context, taskID string, cause error) error {
	_, err := m.transition(ctx, taskID, models.TaskFailure, func(r *models.TaskRecord) {
		r.Current, r.Total = 1, 1
		r.Status = cause.Error()
		r.Error = cause.Error()
		r.Result = nil
	})
	if err != nil {
		m.log.Warn("failed to record task failure", "task_id", taskID, "error", err)
	}
	m.metrics.RecordTiming(metrics.OpIngest, 0, cause)
	m.metrics.RecordTask(string(models.TaskFailure))
	m.log.Error("task failed", "task_id", taskID, "error", cause)
	return cause
}

func (m *TaskManager) cleanup(log *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := m.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to remove input file", "file", path, "error", err)
	}
}
