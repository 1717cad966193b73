package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/captchad/captchad/internal/ocr"
)

// stubEngine returns canned recognition results.
type stubEngine struct {
	classify func(charset string) (string, error)
	boxes    []ocr.Box
	slide    *ocr.SlideResult
	err      error
}

func (s *stubEngine) Classify(ctx context.Context, img []byte) (string, error) {
	return s.ClassifyRanged(ctx, img, "")
}

func (s *stubEngine) ClassifyRanged(ctx context.Context, img []byte, charset string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.classify(charset)
}

func (s *stubEngine) Detect(ctx context.Context, img []byte) ([]ocr.Box, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.boxes, nil
}

func (s *stubEngine) SlideMatch(ctx context.Context, gap, full []byte) (*ocr.SlideResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.slide, nil
}

func (s *stubEngine) SlideCompare(ctx context.Context, shadow, full []byte) (*ocr.SlideResult, error) {
	return s.SlideMatch(ctx, shadow, full)
}

// testPNG returns a small valid PNG, base64-encoded.
func testPNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(t *testing.T, handlerFunc http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handlerFunc(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var resp struct {
		Result interface{} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Result
}

func TestOCRImage(t *testing.T) {
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "abcd", nil }}, 0)

	rec := postJSON(t, h.Image, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeResult(t, rec); got != "abcd" {
		t.Errorf("result = %v, want abcd", got)
	}
}

func TestOCRNumberUsesDigitCharset(t *testing.T) {
	var gotCharset string
	h := NewOCRHandler(&stubEngine{classify: func(cs string) (string, error) {
		gotCharset = cs
		return "1234", nil
	}}, 0)

	rec := postJSON(t, h.Number, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotCharset != ocr.CharsetDigits {
		t.Errorf("charset = %q, want digits", gotCharset)
	}
}

func TestOCRComputeIntegerResult(t *testing.T) {
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "3x4=?", nil }}, 0)

	rec := postJSON(t, h.Compute, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Integral values come back as a JSON number without a fraction.
	if got := decodeResult(t, rec); got != float64(12) {
		t.Errorf("result = %v (%T), want 12", got, got)
	}
}

func TestOCRComputeFractionalResult(t *testing.T) {
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "9÷2=", nil }}, 0)

	rec := postJSON(t, h.Compute, map[string]string{"img_base64": testPNG(t)})
	if got := decodeResult(t, rec); got != 4.5 {
		t.Errorf("result = %v, want 4.5", got)
	}
}

func TestOCRComputeEvalFailure(t *testing.T) {
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "gibberish", nil }}, 0)

	rec := postJSON(t, h.Compute, map[string]string{"img_base64": testPNG(t)})
	// Unevaluable text is still a 200; the failure rides in the result.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got, ok := decodeResult(t, rec).(string)
	if !ok || !strings.HasPrefix(got, "Error: ") {
		t.Errorf("result = %v, want Error: prefix", got)
	}
}

func TestOCRDetection(t *testing.T) {
	h := NewOCRHandler(&stubEngine{
		classify: func(string) (string, error) { return "字", nil },
		boxes:    []ocr.Box{{X1: 0, Y1: 0, X2: 4, Y2: 4}},
	}, 0)

	rec := postJSON(t, h.Detection, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result map[string][2]int `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	center, ok := resp.Result["字"]
	if !ok {
		t.Fatalf("result = %v, want entry for recognized text", resp.Result)
	}
	if center != [2]int{2, 2} {
		t.Errorf("center = %v, want [2 2]", center)
	}
}

func TestOCRSliderGap(t *testing.T) {
	h := NewOCRHandler(&stubEngine{
		slide: &ocr.SlideResult{Target: []int{120, 40, 180, 100}, TargetY: 40},
	}, 0)

	img := testPNG(t)
	rec := postJSON(t, h.SliderGap, map[string]string{
		"gapimg_base64":  img,
		"fullimg_base64": img,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Result ocr.SlideResult `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Target) != 4 || resp.Result.Target[0] != 120 {
		t.Errorf("target = %v", resp.Result.Target)
	}
}

func TestOCRBadRequests(t *testing.T) {
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "", nil }}, 0)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty image", map[string]string{"img_base64": ""}},
		{"invalid base64", map[string]string{"img_base64": "!!!not-base64!!!"}},
		{"not an image", map[string]string{"img_base64": base64.StdEncoding.EncodeToString([]byte("plain text"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.Image, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestOCRImageTooLarge(t *testing.T) {
	// A cap below the test image size rejects before the engine is called.
	h := NewOCRHandler(&stubEngine{classify: func(string) (string, error) { return "x", nil }}, 16)

	rec := postJSON(t, h.Image, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "limit") {
		t.Errorf("body should name the size limit: %s", rec.Body.String())
	}
}

func TestOCREngineFailure(t *testing.T) {
	h := NewOCRHandler(&stubEngine{err: errors.New("engine down")}, 0)

	rec := postJSON(t, h.Image, map[string]string{"img_base64": testPNG(t)})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
