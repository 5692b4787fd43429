package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const defaultHotpotURL = "https://api.hotpot.ai"

// Hotpot drives the Hotpot AI photo-restoration API. Restoration starts at
// submission time, so Start is a no-op.
type Hotpot struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func NewHotpot(apiKey, baseURL string) (*Hotpot, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: hotpot api key is missing", ErrNotConfigured)
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultHotpotURL
	}

	return &Hotpot{
		httpClient: newHTTPClient(),
		apiKey:     apiKey,
		baseURL:    baseURL,
	}, nil
}

func (h *Hotpot) Name() string {
	return "hotpot"
}

func (h *Hotpot) Submit(ctx context.Context, data []byte, filename string) (JobRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("build submit form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build submit form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build submit form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/ai-services/photo-restoration", &body)
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", classifyHTTPError("hotpot submit", err, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", classifyHTTPError("hotpot submit", nil, resp)
	}

	var parsed struct {
		TaskID string `json:"taskId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("hotpot submit: decode response: %w", err)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("hotpot submit: empty taskId in response")
	}
	return JobRef(parsed.TaskID), nil
}

// Start is a no-op: hotpot begins restoring on upload.
func (h *Hotpot) Start(_ context.Context, _ JobRef) error {
	return nil
}

func (h *Hotpot) PollStatus(ctx context.Context, ref JobRef) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/ai-services/tasks/"+string(ref), nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", classifyHTTPError("hotpot status", err, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPError("hotpot status", nil, resp)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("hotpot status: decode response: %w", err)
	}

	switch strings.ToLower(parsed.Status) {
	case "done", "completed", "success":
		return StatusCompleted, nil
	case "failed", "error":
		return StatusFailed, nil
	default:
		return StatusProcessing, nil
	}
}

func (h *Hotpot) FetchResult(ctx context.Context, ref JobRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/ai-services/tasks/"+string(ref)+"/result", nil)
	if err != nil {
		return nil, fmt.Errorf("build result request: %w", err)
	}
	req.Header.Set("Authorization", h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError("hotpot result", err, nil)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("hotpot result: %w", ErrResultUnavailable)
	default:
		return nil, classifyHTTPError("hotpot result", nil, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hotpot result: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("hotpot result: empty result body")
	}
	return data, nil
}
