package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kintel/internal/db"
	"github.com/raphaelgruber/kintel/internal/llm"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/queue"
	"github.com/raphaelgruber/kintel/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto counts of three words.
type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "refund")) + 0.01,
		float32(strings.Count(lower, "shipping")) + 0.01,
		float32(strings.Count(lower, "warranty")) + 0.01,
	}
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type fixedModel struct{ answer string }

func (m fixedModel) Generate(context.Context, string) (llm.Response, error) {
	return llm.TextResponse(m.answer), nil
}

// fileIngester turns the uploaded file into a single document.
type fileIngester struct {
	embedder keywordEmbedder
	release  chan struct{}
}

func (f *fileIngester) Process(ctx context.Context, p models.TaskPayload) ([]models.DocumentInput, error) {
	if f.release != nil {
		<-f.release
	}
	path, org := p.FilePath, p.OrganizationID
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	emb, _ := f.embedder.Embed(ctx, text)
	return []models.DocumentInput{{
		Content:          text,
		Embedding:        emb,
		OrganizationID:   org,
		SourceFileName:   p.SourceFileName(),
		SourceFilePath:   path,
		SourceDocumentID: "doc-1",
		PartNumber:       1,
	}}, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	srv     *Server
	store   *db.Memory
	tasks   *service.TaskManager
	broker  *queue.MemoryBroker
	ingest  *fileIngester
	uploads string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemory(3)
	broker := queue.NewMemoryBroker(8)
	backend := queue.NewMemoryBackend(time.Hour)
	collector := metrics.NewCollector()
	ingest := &fileIngester{}
	embedder := keywordEmbedder{}

	tasks := service.NewTaskManager(broker, backend, ingest, store, 100*time.Millisecond, collector)
	questions := service.NewQuestionService(store, embedder)
	uploads := t.TempDir()

	srv := New(":0", Deps{
		Tasks:     tasks,
		Documents: service.NewDocumentService(store, embedder),
		Questions: questions,
		Chat:      service.NewChatService(store, questions, embedder, nil, fixedModel{answer: "Refunds take 5 days."}),
		Health:    map[string]Pinger{"vector_store": store},
		Metrics:   collector,
		UploadDir: uploads,
	})
	srv.watchInterval = 10 * time.Millisecond
	return &fixture{srv: srv, store: store, tasks: tasks, broker: broker, ingest: ingest, uploads: uploads}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, org, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("organization_id", org))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// runNext executes the next queued task the way the worker would.
func (f *fixture) runNext(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := f.broker.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, f.tasks.Run(ctx, d.Payload))
	require.NoError(t, d.Ack(ctx))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUploadThenPollUntilSuccess(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "acme", "policy.TXT", "Refund policy: refunds within 30 days.")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[UploadResponse](t, rec)
	assert.NotEmpty(t, up.TaskID)
	assert.Equal(t, "Document upload queued for processing", up.Message)

	saved, err := filepath.Glob(filepath.Join(f.uploads, "upload-*.txt"))
	require.NoError(t, err)
	assert.Len(t, saved, 1)

	st := decode[models.TaskStatus](t, f.do(t, http.MethodGet, "/documents/task/"+up.TaskID, nil))
	assert.Equal(t, models.TaskPending, st.State)
	assert.Equal(t, "Pending...", st.Status)

	f.runNext(t)

	st = decode[models.TaskStatus](t, f.do(t, http.MethodGet, "/documents/task/"+up.TaskID, nil))
	assert.Equal(t, models.TaskSuccess, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, up.TaskID, st.Result.TaskID)

	saved, _ = filepath.Glob(filepath.Join(f.uploads, "upload-*"))
	assert.Empty(t, saved, "temp file removed after the task")

	docs := decode[[]DocumentView](t, f.do(t, http.MethodPost, "/documents/search", SearchRequest{OrganizationID: "acme", Query: "refund"}))
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].SourceDocumentID)
	assert.Equal(t, "policy.TXT", docs[0].SourceFileName, "client filename kept, not the temp name")
	assert.NotEmpty(t, docs[0].ID)
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, "Not Valid", "a.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	saved, _ := filepath.Glob(filepath.Join(f.uploads, "*"))
	assert.Empty(t, saved, "rejected upload is not left on disk")

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTaskStatusUnknownID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/documents/task/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[errorBody](t, rec).Detail)
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	f := newFixture(t)
	f.ingest.release = make(chan struct{})

	up := decode[UploadResponse](t, f.upload(t, "acme", "a.txt", "shipping notes"))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/documents/task/" + up.TaskID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first models.TaskStatus
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.TaskPending, first.State)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := f.broker.Receive(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- f.tasks.Run(ctx, d.Payload) }()
	close(f.ingest.release)

	var states []models.TaskState
	for {
		var st models.TaskStatus
		if err := conn.ReadJSON(&st); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		states = append(states, st.State)
	}
	require.NoError(t, <-done)
	require.NotEmpty(t, states)
	assert.Equal(t, models.TaskSuccess, states[len(states)-1])
}

func TestWatchUnknownTaskIsNotUpgraded(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/documents/task/nope/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertDocuments(ctx, []models.DocumentInput{
		{Content: "a", Embedding: []float32{1, 0, 0}, OrganizationID: "acme", SourceDocumentID: "s1", PartNumber: 1},
		{Content: "b", Embedding: []float32{0, 1, 0}, OrganizationID: "acme", SourceDocumentID: "s1", PartNumber: 2},
	}))

	rec := f.do(t, http.MethodDelete, "/documents/acme/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[DeleteResponse](t, rec).Deleted)

	docs := decode[[]DocumentView](t, f.do(t, http.MethodPost, "/documents/search", SearchRequest{OrganizationID: "acme"}))
	assert.Empty(t, docs)
}

func TestQuestionsAndChat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/questions", QuestionRequest{
		OrganizationID: "acme", Question: "How long do refunds take?", Answer: "Five days.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	qa := decode[QuestionView](t, rec)
	require.NotEmpty(t, qa.ID)

	rel := decode[[]QuestionView](t, f.do(t, http.MethodPost, "/questions/relevant", RelevantRequest{OrganizationID: "acme", Query: "refund"}))
	require.Len(t, rel, 1)
	assert.Equal(t, qa.ID, rel[0].ID)

	resp := decode[models.ChatResponse](t, f.do(t, http.MethodPost, "/chat", models.ChatRequest{OrganizationID: "acme", Query: "refund?"}))
	assert.Equal(t, "Refunds take 5 days.", resp.Answer)
	require.Len(t, resp.RelevantQuestions, 1)
	assert.Contains(t, resp.RelevantQuestions[0], "How long do refunds take?")

	rec = f.do(t, http.MethodDelete, "/questions/"+qa.ID+"?organization_id=acme", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/questions/"+qa.ID+"?organization_id=acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectsUnknownJSONFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/chat", map[string]string{"organization_id": "acme", "prompt": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	f.srv.deps.Health["broker"] = downPinger{}
	rec = f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "connection refused", h.Components["broker"])

	rec = f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[metrics.Snapshot](t, rec)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kintel_http_requests_total")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrTaskNotFound, http.StatusNotFound},
		{db.ErrNotFound, http.StatusNotFound},
		{db.ErrAlreadyExists, http.StatusConflict},
		{llm.ErrFatalAPI, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusCode(tt.err))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
