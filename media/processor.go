package media

import (
	"bytes"
	"fmt"
	"image"
	"log"
	"math"

	"github.com/disintegration/imaging"
)

const (
	ThumbnailJpegQuality = 90
	DefaultThumbnailSize = 256
)

// Processor decodes and transforms artifact bytes. It never touches a Store,
// callers decide where results go.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

// Inspect fully decodes data and reports its dimensions and format. Anything
// that is not a decodable raster image is an error.
func (p *Processor) Inspect(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, fmt.Errorf("empty image data")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("invalid image dimensions: %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image: %w", err)
	}

	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Thumbnail renders a JPEG whose longest side matches maxSize. Images already
// smaller than maxSize are re-encoded at their own size.
func (p *Processor) Thumbnail(data []byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultThumbnailSize
	}

	originalImg, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image for thumbnail: %w", err)
	}

	origBounds := originalImg.Bounds()
	origWidth := origBounds.Dx()
	origHeight := origBounds.Dy()
	if origWidth <= 0 || origHeight <= 0 {
		return nil, fmt.Errorf("invalid original image dimensions: %dx%d", origWidth, origHeight)
	}

	var newWidth, newHeight int
	if origWidth > origHeight {
		if origWidth <= maxSize {
			newWidth, newHeight = origWidth, origHeight
		} else {
			newWidth = maxSize
			newHeight = int(math.Round(float64(origHeight) * (float64(maxSize) / float64(origWidth))))
		}
	} else {
		if origHeight <= maxSize {
			newWidth, newHeight = origWidth, origHeight
		} else {
			newHeight = maxSize
			newWidth = int(math.Round(float64(origWidth) * (float64(maxSize) / float64(origHeight))))
		}
	}
	newWidth = maxInt(1, newWidth)
	newHeight = maxInt(1, newHeight)

	thumb := imaging.Resize(originalImg, newWidth, newHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailJpegQuality)); err != nil {
		log.Printf("processor: Failed to encode thumbnail: %v", err)
		return nil, fmt.Errorf("thumbnail encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}
