// Package generators holds the model collaborators the cache and ledger sit
// in front of. Implementations may be slow and may fail; callers bound every
// call with a context deadline.
package generators

import (
	"context"
	"time"
)

// Answer is one model answer to a question about an image.
type Answer struct {
	Text       string
	Confidence float64 // expected in [0,1], callers clamp
}

type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, image []byte, question string) (Answer, error)
}

// AnswerFunc adapts a plain function to AnswerGenerator.
type AnswerFunc func(ctx context.Context, image []byte, question string) (Answer, error)

func (f AnswerFunc) GenerateAnswer(ctx context.Context, image []byte, question string) (Answer, error) {
	return f(ctx, image, question)
}

// ImageRequest is a fully defaulted text-to-image request.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Seed           *int64 // nil lets the generator pick one
}

type ImageResult struct {
	Image    []byte
	SeedUsed int64
	Duration time.Duration
}

type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (ImageResult, error)
	// ModelID is recorded with every attempt
	ModelID() string
}
