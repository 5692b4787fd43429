package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

const defaultVanceAIURL = "https://api-service.vanceai.com"

// VanceAI drives the VanceAI web API: upload returns an image uid, transform
// starts the restoration job, progress reports its state and download
// returns the restored bytes.
type VanceAI struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func NewVanceAI(apiKey, baseURL string) (*VanceAI, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: vanceai api key is missing", ErrNotConfigured)
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultVanceAIURL
	}

	return &VanceAI{
		httpClient: newHTTPClient(),
		apiKey:     apiKey,
		baseURL:    baseURL,
	}, nil
}

func (v *VanceAI) Name() string {
	return "vanceai"
}

type vanceaiEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data struct {
		UID      string `json:"uid,omitempty"`
		TransID  string `json:"trans_id,omitempty"`
		Status   string `json:"status,omitempty"`
		Progress int    `json:"progress,omitempty"`
	} `json:"data"`
}

func (v *VanceAI) Submit(ctx context.Context, data []byte, filename string) (JobRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("api_token", v.apiKey); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/web_api/v1/upload", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var envelope vanceaiEnvelope
	if err := v.do(req, "vanceai upload", &envelope); err != nil {
		return "", err
	}
	if envelope.Data.UID == "" {
		return "", fmt.Errorf("vanceai upload: empty uid in response")
	}
	return JobRef(envelope.Data.UID), nil
}

func (v *VanceAI) Start(ctx context.Context, ref JobRef) error {
	jconfig := map[string]any{
		"job": "restore",
		"config": map[string]any{
			"module":        "restore",
			"module_params": map[string]any{"model_name": "RestoreStable"},
		},
	}
	configJSON, err := json.Marshal(jconfig)
	if err != nil {
		return fmt.Errorf("marshal transform config: %w", err)
	}

	form := url.Values{}
	form.Set("api_token", v.apiKey)
	form.Set("uid", string(ref))
	form.Set("jconfig", string(configJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/web_api/v1/transform", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build transform request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var envelope vanceaiEnvelope
	if err := v.do(req, "vanceai transform", &envelope); err != nil {
		return err
	}
	return nil
}

func (v *VanceAI) PollStatus(ctx context.Context, ref JobRef) (Status, error) {
	form := url.Values{}
	form.Set("api_token", v.apiKey)
	form.Set("uid", string(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/web_api/v1/transform/progress", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build progress request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var envelope vanceaiEnvelope
	if err := v.do(req, "vanceai progress", &envelope); err != nil {
		return "", err
	}

	switch strings.ToLower(envelope.Data.Status) {
	case "finish":
		return StatusCompleted, nil
	case "fatal", "error":
		return StatusFailed, nil
	default:
		return StatusProcessing, nil
	}
}

func (v *VanceAI) FetchResult(ctx context.Context, ref JobRef) ([]byte, error) {
	form := url.Values{}
	form.Set("api_token", v.apiKey)
	form.Set("uid", string(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/web_api/v1/download", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError("vanceai download", err, nil)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("vanceai download: %w", ErrResultUnavailable)
	default:
		return nil, classifyHTTPError("vanceai download", nil, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vanceai download: read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("vanceai download: empty result body")
	}
	return data, nil
}

func (v *VanceAI) do(req *http.Request, op string, into *vanceaiEnvelope) error {
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return classifyHTTPError(op, err, nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(op, nil, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if into.Code != 200 {
		return fmt.Errorf("%s: api code=%d msg=%s", op, into.Code, into.Msg)
	}
	return nil
}
