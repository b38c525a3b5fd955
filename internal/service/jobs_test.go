package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kintel/internal/db"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend keeps every successfully written record version.
type recordingBackend struct {
	*queue.MemoryBackend
	mu      sync.Mutex
	history []models.TaskRecord
}

func (r *recordingBackend) Update(ctx context.Context, id string, fn func(*models.TaskRecord) error) (models.TaskRecord, error) {
	rec, err := r.MemoryBackend.Update(ctx, id, fn)
	if err == nil {
		r.mu.Lock()
		r.history = append(r.history, rec)
		r.mu.Unlock()
	}
	return rec, err
}

func (r *recordingBackend) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	for i, h := range r.history {
		out[i] = string(h.State) + ":" + h.Status
	}
	return out
}

type taskFixture struct {
	tm      *TaskManager
	broker  *queue.MemoryBroker
	backend *recordingBackend
	ingest  *stubIngester
	store   *db.Memory
}

func newTaskFixture(t *testing.T, store DocumentStore) *taskFixture {
	t.Helper()
	f := &taskFixture{
		broker:  queue.NewMemoryBroker(8),
		backend: &recordingBackend{MemoryBackend: queue.NewMemoryBackend(time.Hour)},
		ingest: &stubIngester{docs: []models.DocumentInput{
			{Content: "c1", OrganizationID: "acme", SourceDocumentID: "s", PartNumber: 1},
		}},
		store: db.NewMemory(0),
	}
	if store == nil {
		store = f.store
	}
	f.tm = NewTaskManager(f.broker, f.backend, f.ingest, store, 20*time.Millisecond, nil)
	return f
}

func tempUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	return path
}

func TestEnqueue_RecordsPendingAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	path := tempUpload(t)

	p, err := f.tm.Enqueue(ctx, models.TaskPayload{FilePath: path, OrganizationID: "acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.TaskID)

	st, err := f.tm.Poll(ctx, p.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatus{TaskID: p.TaskID, State: models.TaskPending, Status: "Pending...", Current: 0, Total: 1}, st)

	d, err := f.broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, d.Payload)
}

func TestEnqueue_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	path := tempUpload(t)

	_, err := f.tm.Enqueue(ctx, models.TaskPayload{FilePath: path, OrganizationID: "Bad Org"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tm.Enqueue(ctx, models.TaskPayload{FilePath: filepath.Join(t.TempDir(), "gone"), OrganizationID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: path, OrganizationID: "acme"})
	require.NoError(t, err)
	_, err = f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: path, OrganizationID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnqueue_PublishFailureMarksFailure(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	require.NoError(t, f.broker.Close())

	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: tempUpload(t), OrganizationID: "acme"})
	assert.ErrorIs(t, err, queue.ErrClosed)

	st, err := f.tm.Poll(ctx, p.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, st.State)
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	path := tempUpload(t)
	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: path, OrganizationID: "acme"})
	require.NoError(t, err)

	require.NoError(t, f.tm.Run(ctx, p))

	assert.Equal(t, []string{
		"PROGRESS:Processing document",
		"PROGRESS:Inserting into vector database",
		"SUCCESS:success",
	}, f.backend.states())
	assert.Equal(t, 1, f.backend.history[0].Current)
	assert.Equal(t, 2, f.backend.history[1].Current)
	assert.Equal(t, 2, f.backend.history[1].Total)

	st, err := f.tm.Poll(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "success", st.Status)
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, &models.TaskResult{Status: "success", TaskID: "t1"}, st.Result)

	stored, err := f.store.SearchDocuments(ctx, "acme", nil, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_StageFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *taskFixture)
		store DocumentStore
		want  string
	}{
		{"ingest", func(f *taskFixture) { f.ingest.err = errors.New("extract: unsupported file format") }, nil, "extract: unsupported file format"},
		{"insert", func(*taskFixture) {}, failingStore{}, "insert documents: store unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newTaskFixture(t, tt.store)
			tt.setup(f)
			path := tempUpload(t)
			p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: path, OrganizationID: "acme"})
			require.NoError(t, err)

			err = f.tm.Run(ctx, p)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			st, err := f.tm.Poll(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, models.TaskFailure, st.State)
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, tt.want, st.Error)
			assert.Equal(t, 1, st.Current)
			assert.Equal(t, 1, st.Total)

			_, err = os.Stat(path)
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestRun_PanicMarksFailure(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	f.ingest.panicWith = "assignment to entry in nil map"
	path := tempUpload(t)
	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: path, OrganizationID: "acme"})
	require.NoError(t, err)

	require.NotPanics(t, func() { err = f.tm.Run(ctx, p) })
	require.ErrorIs(t, err, errTaskPanicked)
	assert.Contains(t, err.Error(), "assignment to entry in nil map")

	st, err := f.tm.Poll(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, st.State)
	assert.True(t, st.State.Terminal())
	assert.Contains(t, st.Error, "task panicked")

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_PassesPayloadToIngester(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: tempUpload(t), OrganizationID: "acme", FileName: "Q3 report.pdf"})
	require.NoError(t, err)

	require.NoError(t, f.tm.Run(ctx, p))
	assert.Equal(t, p, f.ingest.last)
	assert.Equal(t, "Q3 report.pdf", f.ingest.last.SourceFileName())
}

func TestRun_CleanupFailureOnlyLogged(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	f.tm.remove = func(string) error { return errors.New("permission denied") }
	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: tempUpload(t), OrganizationID: "acme"})
	require.NoError(t, err)

	require.NoError(t, f.tm.Run(ctx, p))
	st, _ := f.tm.Poll(ctx, "t1")
	assert.Equal(t, models.TaskSuccess, st.State)
}

func TestRun_Redelivery(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	p, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t1", FilePath: tempUpload(t), OrganizationID: "acme"})
	require.NoError(t, err)

	require.NoError(t, f.tm.Run(ctx, p))
	require.NoError(t, f.tm.Run(ctx, p))
	assert.Equal(t, 1, f.ingest.calls, "terminal task must not run again")

	// interrupted mid-flight: record stuck in PROGRESS
	p2, err := f.tm.Enqueue(ctx, models.TaskPayload{TaskID: "t2", FilePath: tempUpload(t), OrganizationID: "acme"})
	require.NoError(t, err)
	_, err = f.backend.Update(ctx, "t2", func(r *models.TaskRecord) error {
		r.State, r.Attempt = models.TaskProgress, 1
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.tm.Run(ctx, p2))
	rec, err := f.backend.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, rec.State)
	assert.Equal(t, 2, rec.Attempt)
}

func TestRun_UnknownRecordIsCreated(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	require.NoError(t, f.tm.Run(ctx, models.TaskPayload{TaskID: "orphan", FilePath: tempUpload(t), OrganizationID: "acme"}))

	st, err := f.tm.Poll(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, st.State)
}

func TestPoll_NotFoundAfterProbe(t *testing.T) {
	f := newTaskFixture(t, nil)
	start := time.Now()
	_, err := f.tm.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPoll_SeesLateRecord(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t, nil)
	f.tm.probe = time.Second

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.backend.Create(ctx, models.TaskRecord{TaskID: "late", State: models.TaskPending})
	}()
	st, err := f.tm.Poll(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "Pending...", st.Status)
}
