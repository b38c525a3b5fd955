package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/service"
)

// UploadResponse is returned by POST /documents/upload.
type UploadResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// SearchRequest is the body of POST /documents/search.
type SearchRequest struct {
	OrganizationID string `json:"organization_id"`
	Query          string `json:"query,omitempty"`
	K              int    `json:"k,omitempty"`
}

// DocumentView is a stored chunk as returned to clients.
type DocumentView struct {
	ID               string   `json:"id"`
	Content          string   `json:"content"`
	OrganizationID   string   `json:"organization_id"`
	SourceFileName   string   `json:"source_file_name"`
	SourceFilePath   string   `json:"source_file_path"`
	SourceDocumentID string   `json:"source_document_id"`
	PartNumber       int      `json:"part_number"`
	Distance         *float64 `json:"distance,omitempty"`
}

// DeleteResponse reports how many records a delete removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// QuestionRequest is the body of POST /questions.
type QuestionRequest struct {
	OrganizationID string `json:"organization_id"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
}

// RelevantRequest is the body of POST /questions/relevant.
type RelevantRequest struct {
	OrganizationID string `json:"organization_id"`
	Query          string `json:"query"`
	K              int    `json:"k,omitempty"`
}

// QuestionView is a stored question/answer pair as returned to clients.
type QuestionView struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	OrganizationID string   `json:"organization_id"`
	Distance       *float64 `json:"distance,omitempty"`
}

func toDocumentView(d models.Document) DocumentView {
	id, _ := models.RecordIDString(d.ID)
	return DocumentView{
		ID:               id,
		Content:          d.Content,
		OrganizationID:   d.OrganizationID,
		SourceFileName:   d.SourceFileName,
		SourceFilePath:   d.SourceFilePath,
		SourceDocumentID: d.SourceDocumentID,
		PartNumber:       d.PartNumber,
		Distance:         d.Distance,
	}
}

func toQuestionView(q models.QuestionAnswer) QuestionView {
	id, _ := models.RecordIDString(q.ID)
	return QuestionView{
		ID:             id,
		Question:       q.Question,
		Answer:         q.Answer,
		OrganizationID: q.OrganizationID,
		Distance:       q.Distance,
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", service.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadMemory); err != nil {
		writeError(w, r, fmt.Errorf("%w: parse form: %w", service.ErrInvalidInput, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: file field required: %w", service.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.deps.Tasks.Enqueue(r.Context(), models.TaskPayload{
		TaskID:         r.FormValue("task_id"),
		FilePath:       path,
		OrganizationID: r.FormValue("organization_id"),
		FileName:       filepath.Base(header.Filename),
	})
	if err != nil {
		_ = os.Remove(path)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{TaskID: p.TaskID, Message: "Document upload queued for processing"})
}

// saveUpload copies the upload to a temp file in the upload directory,
// keeping the extension so extractors can dispatch on it.
func (s *Server) saveUpload(src io.Reader, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	dst, err := os.CreateTemp(s.deps.UploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return dst.Name(), nil
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Tasks.Poll(r.Context(), r.PathValue("task_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTaskWatch streams status changes over a websocket until the task
// reaches a terminal state.
func (s *Server) handleTaskWatch(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	st, err := s.deps.Tasks.Poll(r.Context(), taskID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// reader goroutine notices client close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last models.TaskStatus
	first := true
	for {
		if first || !sameStatus(st, last) {
			if err := conn.WriteJSON(st); err != nil {
				return
			}
			last, first = st, false
		}
		if st.State.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(st.State)),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := s.deps.Tasks.Poll(ctx, taskID)
		if errors.Is(err, service.ErrTaskNotFound) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "task expired"),
				time.Now().Add(time.Second))
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("watch poll failed", "task_id", taskID, "error", err)
			}
			return
		}
		st = next
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := s.deps.Documents.Search(r.Context(), service.SearchOptions{
		OrganizationID: req.OrganizationID,
		Query:          req.Query,
		Limit:          req.K,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]DocumentView, len(docs))
	for i, d := range docs {
		out[i] = toDocumentView(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Documents.Delete(r.Context(), r.PathValue("organization_id"), r.PathValue("source_document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (s *Server) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	qa, err := s.deps.Questions.Add(r.Context(), req.OrganizationID, req.Question, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuestionView(*qa))
}

func (s *Server) handleRelevantQuestions(w http.ResponseWriter, r *http.Request) {
	var req RelevantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	qas, err := s.deps.Questions.Relevant(r.Context(), req.OrganizationID, req.Query, req.K)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]QuestionView, len(qas))
	for i, q := range qas {
		out[i] = toQuestionView(q)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Questions.Delete(r.Context(), r.URL.Query().Get("organization_id"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: 1})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.deps.Chat.Answer(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Components: map[string]string{}}
	code := http.StatusOK
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

func sameStatus(a, b models.TaskStatus) bool {
	ra, rb := a.Result, b.Result
	a.Result, b.Result = nil, nil
	if a != b {
		return false
	}
	if ra == nil || rb == nil {
		return ra == rb
	}
	return *ra == *rb
}
