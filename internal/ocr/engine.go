// Package ocr defines the capability contract of the external recognition
// engine and the HTTP client that fulfils it. The rest of the service treats
// the engine as opaque: image bytes in, classified text, boxes, or slide
// offsets out.
package ocr

import "context"

// Character ranges mirroring the models the service exposes.
const (
	CharsetDigits     = "0123456789"
	CharsetArithmetic = "0123456789+-x÷="
	CharsetLetters    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Box is a detected text region, pixel coordinates, origin top-left.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// SlideResult locates a slider target within the full image. TargetY is only
// set by gap matching.
type SlideResult struct {
	Target  []int `json:"target"`
	TargetY int   `json:"target_y,omitempty"`
}

// Engine is the recognition capability the endpoints delegate to.
type Engine interface {
	// Classify returns the text read from a captcha image.
	Classify(ctx context.Context, img []byte) (string, error)
	// ClassifyRanged restricts classification to the given character set.
	ClassifyRanged(ctx context.Context, img []byte, charset string) (string, error)
	// Detect locates text regions in a click-captcha image.
	Detect(ctx context.Context, img []byte) ([]Box, error)
	// SlideMatch finds where a gap piece fits in the full image.
	SlideMatch(ctx context.Context, gap, full []byte) (*SlideResult, error)
	// SlideCompare finds the offset between a shadowed and a full image.
	SlideCompare(ctx context.Context, shadow, full []byte) (*SlideResult, error)
}
