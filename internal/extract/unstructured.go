package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/kintel/internal/resilience"
)

const (
	partitionPath    = "/general/v0/general"
	chunkingStrategy = "by_title"
	maxCharacters    = 5000
)

// Unstructured calls the Unstructured partition API.
type Unstructured struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// NewUnstructured creates a client for the API rooted at baseURL.
func NewUnstructured(baseURL, apiKey string) *Unstructured {
	return &Unstructured{
		endpoint:   strings.TrimSuffix(baseURL, "/") + partitionPath,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		retry:      resilience.DefaultRetryConfig(),
	}
}

// WithRetry overrides the retry policy.
func (u *Unstructured) WithRetry(cfg resilience.RetryConfig) *Unstructured {
	u.retry = cfg
	return u
}

type element struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extract uploads the file and returns the text of every returned element.
// Connection failures, 429 and 5xx responses are retried with backoff.
func (u *Unstructured) Extract(ctx context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	body, contentType, err := buildForm(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}

	var elements []element
	err = resilience.Retry(ctx, "unstructured.partition", u.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("unstructured-api-key", u.apiKey)

		resp, err := u.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("partition service error: %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return resilience.Permanent(fmt.Errorf("partition rejected: %s - %s", resp.Status, string(payload)))
		}
		if err := json.Unmarshal(payload, &elements); err != nil {
			return resilience.Permanent(fmt.Errorf("decode elements: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	segments := make([]string, 0, len(elements))
	for _, el := range elements {
		if t := strings.TrimSpace(el.Text); t != "" {
			segments = append(segments, t)
		}
	}
	return segments, nil
}

func buildForm(name string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	fields := map[string]string{
		"chunking_strategy": chunkingStrategy,
		"max_characters":    strconv.Itoa(maxCharacters),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
