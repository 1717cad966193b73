package handler

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"net/http"

	"github.com/captchad/captchad/internal/model"
	"github.com/captchad/captchad/internal/ocr"
)

// DefaultMaxImageSize caps a single decoded image payload.
const DefaultMaxImageSize = 5 * 1024 * 1024

// OCRHandler serves the recognition endpoints. All routes it handles sit
// behind the token gate; by the time a request arrives here it is already
// authorized and accounted for.
type OCRHandler struct {
	engine       ocr.Engine
	maxImageSize int64
}

// NewOCRHandler creates an OCRHandler. Pass zero for the default image size
// cap.
func NewOCRHandler(engine ocr.Engine, maxImageSize int64) *OCRHandler {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &OCRHandler{engine: engine, maxImageSize: maxImageSize}
}

// imageRequest is the payload for single-image endpoints.
type imageRequest struct {
	ImageBase64 string `json:"img_base64"`
}

// sliderRequest is the payload for the slider endpoints.
type sliderRequest struct {
	GapBase64  string `json:"gapimg_base64"`
	FullBase64 string `json:"fullimg_base64"`
}

// readImage parses a single-image request and returns the decoded bytes.
func (h *OCRHandler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize*2)
	var req imageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}
	img, err := decodeImage(req.ImageBase64, h.maxImageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return img, true
}

// Image recognizes a general captcha.
// POST /api/ocr/image
func (h *OCRHandler) Image(w http.ResponseWriter, r *http.Request) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	text, err := h.engine.Classify(r.Context(), img)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Recognition failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: text})
}

// Number recognizes a digits-only captcha.
// POST /api/ocr/number
func (h *OCRHandler) Number(w http.ResponseWriter, r *http.Request) {
	h.ranged(w, r, ocr.CharsetDigits)
}

// Alphabet recognizes a letters-only captcha.
// POST /api/ocr/alphabet
func (h *OCRHandler) Alphabet(w http.ResponseWriter, r *http.Request) {
	h.ranged(w, r, ocr.CharsetLetters)
}

func (h *OCRHandler) ranged(w http.ResponseWriter, r *http.Request, charset string) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	text, err := h.engine.ClassifyRanged(r.Context(), img, charset)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Recognition failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: text})
}

// Compute recognizes an arithmetic captcha and evaluates it. Evaluation
// failures are reported in the result as an error string rather than an HTTP
// error, matching what clients of this endpoint expect.
// POST /api/ocr/compute
func (h *OCRHandler) Compute(w http.ResponseWriter, r *http.Request) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	text, err := h.engine.ClassifyRanged(r.Context(), img, ocr.CharsetArithmetic)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Recognition failed: "+err.Error())
		return
	}

	var result interface{}
	v, err := ocr.EvalArithmetic(ocr.NormalizeArithmetic(text))
	switch {
	case err != nil:
		result = "Error: " + err.Error()
	case v == math.Trunc(v):
		result = int64(v)
	default:
		result = v
	}
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: result})
}

// Detection locates text in a click-captcha and classifies each region,
// returning a text-to-center mapping.
// POST /api/ocr/detection
func (h *OCRHandler) Detection(w http.ResponseWriter, r *http.Request) {
	imgBytes, ok := h.readImage(w, r)
	if !ok {
		return
	}

	boxes, err := h.engine.Detect(r.Context(), imgBytes)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Detection failed: "+err.Error())
		return
	}

	full, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unrecognized image format")
		return
	}

	result := make(map[string][2]int, len(boxes))
	for _, box := range boxes {
		crop, err := cropPNG(full, box)
		if err != nil {
			continue
		}
		text, err := h.engine.Classify(r.Context(), crop)
		if err != nil || text == "" {
			continue
		}
		result[text] = [2]int{
			box.X1 + (box.X2-box.X1)/2,
			box.Y1 + (box.Y2-box.Y1)/2,
		}
	}
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: result})
}

// cropPNG cuts a detected box out of the image and re-encodes it for the
// classifier.
func cropPNG(img image.Image, box ocr.Box) ([]byte, error) {
	rect := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, image.ErrFormat
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	var cropped image.Image
	if ok {
		cropped = sub.SubImage(rect)
	} else {
		dst := image.NewRGBA(rect)
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				dst.Set(x, y, img.At(x, y))
			}
		}
		cropped = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SliderGap finds where a gap piece fits in the full image.
// POST /api/ocr/slider/gap
func (h *OCRHandler) SliderGap(w http.ResponseWriter, r *http.Request) {
	h.slider(w, r, h.engine.SlideMatch)
}

// SliderShadow finds the offset between a shadowed and a full image.
// POST /api/ocr/slider/shadow
func (h *OCRHandler) SliderShadow(w http.ResponseWriter, r *http.Request) {
	h.slider(w, r, h.engine.SlideCompare)
}

func (h *OCRHandler) slider(w http.ResponseWriter, r *http.Request,
	match func(ctx context.Context, a, b []byte) (*ocr.SlideResult, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize*4)
	var req sliderRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	gap, err := decodeImage(req.GapBase64, h.maxImageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	full, err := decodeImage(req.FullBase64, h.maxImageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := match(r.Context(), gap, full)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Recognition failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: result})
}
