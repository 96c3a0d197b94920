package generators

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"math/rand"
	"time"

	"github.com/disintegration/imaging"
)

const PlaceholderModelID = "placeholder"

// Placeholder renders a flat gradient whose colours depend only on the seed
// and answers every question with "unknown". It lets the service run without
// a model backend.
type Placeholder struct{}

func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

func (p *Placeholder) ModelID() string {
	return PlaceholderModelID
}

func (p *Placeholder) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return ImageResult{}, err
	}
	if req.Width <= 0 || req.Height <= 0 {
		return ImageResult{}, fmt.Errorf("invalid size %dx%d", req.Width, req.Height)
	}

	seed := rand.Int63n(1 << 31)
	if req.Seed != nil {
		seed = *req.Seed
	}

	rng := rand.New(rand.NewSource(seed))
	from := color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}
	to := color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255}

	img := imaging.New(req.Width, req.Height, from)
	for y := 0; y < req.Height; y++ {
		t := float64(y) / float64(req.Height)
		row := color.NRGBA{
			R: lerp(from.R, to.R, t),
			G: lerp(from.G, to.G, t),
			B: lerp(from.B, to.B, t),
			A: 255,
		}
		for x := 0; x < req.Width; x++ {
			img.SetNRGBA(x, y, row)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return ImageResult{}, fmt.Errorf("failed to encode placeholder image: %w", err)
	}

	return ImageResult{Image: buf.Bytes(), SeedUsed: seed, Duration: time.Since(start)}, nil
}

func (p *Placeholder) GenerateAnswer(ctx context.Context, image []byte, question string) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	return Answer{Text: "unknown", Confidence: 0}, nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
