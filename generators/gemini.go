package generators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// contentGenerator is the part of *genai.Models the adapters call.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini answers questions and renders images through the Gemini API.
type Gemini struct {
	models     contentGenerator
	vqaModel   string
	imageModel string
}

func NewGemini(ctx context.Context, apiKey, vqaModel, imageModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGemini(client.Models, vqaModel, imageModel), nil
}

func newGemini(models contentGenerator, vqaModel, imageModel string) *Gemini {
	return &Gemini{models: models, vqaModel: vqaModel, imageModel: imageModel}
}

func (g *Gemini) ModelID() string {
	return g.imageModel
}

func (g *Gemini) GenerateAnswer(ctx context.Context, image []byte, question string) (Answer, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, http.DetectContentType(image)),
			genai.NewPartFromText("Answer briefly in a few words. " + question),
		}, genai.RoleUser),
	}

	result, err := g.models.GenerateContent(ctx, g.vqaModel, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return Answer{}, err
	}
	if len(result.Candidates) == 0 {
		return Answer{}, errors.New("no candidates in response")
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return Answer{}, errors.New("empty answer in response")
	}

	confidence := 1.0
	if avg := result.Candidates[0].AvgLogprobs; avg != 0 {
		confidence = math.Exp(avg)
	}
	return Answer{Text: text, Confidence: confidence}, nil
}

func (g *Gemini) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	start := time.Now()

	seed := rand.Int63n(math.MaxInt32)
	if req.Seed != nil {
		seed = *req.Seed
	}

	prompt := fmt.Sprintf("%s\nImage size: %dx%d pixels.", req.Prompt, req.Width, req.Height)
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}

	result, err := g.models.GenerateContent(ctx, g.imageModel, genai.Text(prompt), &genai.GenerateContentConfig{
		Seed: genai.Ptr(int32(seed)),
	})
	if err != nil {
		return ImageResult{}, err
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ImageResult{}, errors.New("no image content in response")
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return ImageResult{Image: part.InlineData.Data, SeedUsed: seed, Duration: time.Since(start)}, nil
		}
	}
	return ImageResult{}, errors.New("no image data found in response")
}
