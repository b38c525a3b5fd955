// Package client provides an HTTP client for the kintel server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kintel/internal/metrics"
	"github.com/raphaelgruber/kintel/internal/models"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Client talks to the kintel HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses KINTEL_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via KINTEL_CLIENT_TIMEOUT env var (default 5m, chat calls can be slow).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("KINTEL_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("KINTEL_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(body))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

// =============================================================================
// TYPES
// =============================================================================

// UploadResult is the server's acknowledgement of an upload.
type UploadResult struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// Document is a stored chunk.
type Document struct {
	ID               string   `json:"id"`
	Content          string   `json:"content"`
	OrganizationID   string   `json:"organization_id"`
	SourceFileName   string   `json:"source_file_name"`
	SourceFilePath   string   `json:"source_file_path"`
	SourceDocumentID string   `json:"source_document_id"`
	PartNumber       int      `json:"part_number"`
	Distance         *float64 `json:"distance,omitempty"`
}

// Question is a stored question/answer pair.
type Question struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	OrganizationID string   `json:"organization_id"`
	Distance       *float64 `json:"distance,omitempty"`
}

// Health is the server health report.
type Health struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// UploadOptions configures an upload.
type UploadOptions struct {
	OrganizationID string
	// TaskID is optional; the server generates one when empty.
	TaskID string
}

// Upload sends a local file for ingestion.
func (c *Client) Upload(ctx context.Context, filePath string, opts UploadOptions) (*UploadResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("organization_id", opts.OrganizationID); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if opts.TaskID != "" {
		if err := mw.WriteField("task_id", opts.TaskID); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskStatus polls the state of one ingestion task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	var out models.TaskStatus
	if err := c.doJSON(ctx, http.MethodGet, "/documents/task/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchOptions configures a document search.
type SearchOptions struct {
	OrganizationID string `json:"organization_id"`
	Query          string `json:"query,omitempty"`
	K              int    `json:"k,omitempty"`
}

// Search returns matching documents, nearest first.
func (c *Client) Search(ctx context.Context, opts SearchOptions) ([]Document, error) {
	var out []Document
	if err := c.doJSON(ctx, http.MethodPost, "/documents/search", opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes every chunk of one ingested document.
func (c *Client) DeleteDocument(ctx context.Context, organizationID, sourceDocumentID string) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	path := "/documents/" + url.PathEscape(organizationID) + "/" + url.PathEscape(sourceDocumentID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// =============================================================================
// QUESTIONS AND CHAT
// =============================================================================

// AddQuestion stores a curated question/answer pair.
func (c *Client) AddQuestion(ctx context.Context, organizationID, question, answer string) (*Question, error) {
	body := map[string]string{
		"organization_id": organizationID,
		"question":        question,
		"answer":          answer,
	}
	var out Question
	if err := c.doJSON(ctx, http.MethodPost, "/questions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RelevantQuestions returns the pairs nearest to query.
func (c *Client) RelevantQuestions(ctx context.Context, organizationID, query string, k int) ([]Question, error) {
	body := map[string]any{"organization_id": organizationID, "query": query}
	if k > 0 {
		body["k"] = k
	}
	var out []Question
	if err := c.doJSON(ctx, http.MethodPost, "/questions/relevant", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteQuestion removes one pair.
func (c *Client) DeleteQuestion(ctx context.Context, organizationID, id string) error {
	path := "/questions/" + url.PathEscape(id) + "?organization_id=" + url.QueryEscape(organizationID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Chat asks a question against the organization's knowledge.
func (c *Client) Chat(ctx context.Context, organizationID, query string) (*models.ChatResponse, error) {
	var out models.ChatResponse
	req := models.ChatRequest{Query: query, OrganizationID: organizationID}
	if err := c.doJSON(ctx, http.MethodPost, "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports server and dependency health. A degraded server returns
// its report together with an *APIError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	var out Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, &APIError{StatusCode: resp.StatusCode, Detail: out.Status}
	}
	return &out, nil
}

// Stats returns the server's in-memory runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// TASK WATCH (WEBSOCKET)
// =============================================================================

// WatchTask streams status updates for taskID until the task is terminal.
// onStatus is called for every change; return an error from it to abort.
// The final status is returned.
func (c *Client) WatchTask(ctx context.Context, taskID string, onStatus func(models.TaskStatus) error) (*models.TaskStatus, error) {
	wsBase := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsBase = strings.Replace(wsBase, "https://", "wss://", 1)

	u, err := url.Parse(wsBase + "/documents/task/" + url.PathEscape(taskID) + "/watch")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &APIError{StatusCode: resp.StatusCode, Detail: "task " + taskID + " not found"}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *models.TaskStatus
	for {
		var st models.TaskStatus
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if last != nil && last.State.Terminal() && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway) {
				return last, &APIError{StatusCode: http.StatusNotFound, Detail: "task " + taskID + " expired"}
			}
			return last, fmt.Errorf("read status: %w", err)
		}
		last = &st
		if err := onStatus(st); err != nil {
			return last, err
		}
	}
}
