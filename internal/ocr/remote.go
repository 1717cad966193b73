package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Remote is an Engine backed by a recognition sidecar speaking JSON over
// HTTP. It is the only Engine implementation shipped; the model runtime
// lives out of process.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a client for the engine at baseURL. Pass zero for the
// default request timeout.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// post sends the payload to path and decodes the JSON response into out.
func (r *Remote) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("engine request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

type classifyRequest struct {
	ImageBase64 string `json:"img_base64"`
	Charset     string `json:"charset,omitempty"`
}

type classifyResponse struct {
	Result string `json:"result"`
}

// Classify implements Engine.
func (r *Remote) Classify(ctx context.Context, img []byte) (string, error) {
	return r.ClassifyRanged(ctx, img, "")
}

// ClassifyRanged implements Engine.
func (r *Remote) ClassifyRanged(ctx context.Context, img []byte, charset string) (string, error) {
	var resp classifyResponse
	req := classifyRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(img),
		Charset:     charset,
	}
	if err := r.post(ctx, "/classify", req, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

type detectResponse struct {
	Result []Box `json:"result"`
}

// Detect implements Engine.
func (r *Remote) Detect(ctx context.Context, img []byte) ([]Box, error) {
	var resp detectResponse
	req := classifyRequest{ImageBase64: base64.StdEncoding.EncodeToString(img)}
	if err := r.post(ctx, "/detect", req, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type slideRequest struct {
	GapBase64  string `json:"gapimg_base64"`
	FullBase64 string `json:"fullimg_base64"`
}

type slideResponse struct {
	Result SlideResult `json:"result"`
}

// SlideMatch implements Engine.
func (r *Remote) SlideMatch(ctx context.Context, gap, full []byte) (*SlideResult, error) {
	return r.slide(ctx, "/slide/match", gap, full)
}

// SlideCompare implements Engine.
func (r *Remote) SlideCompare(ctx context.Context, shadow, full []byte) (*SlideResult, error) {
	return r.slide(ctx, "/slide/compare", shadow, full)
}

func (r *Remote) slide(ctx context.Context, path string, gap, full []byte) (*SlideResult, error) {
	var resp slideResponse
	req := slideRequest{
		GapBase64:  base64.StdEncoding.EncodeToString(gap),
		FullBase64: base64.StdEncoding.EncodeToString(full),
	}
	if err := r.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}
