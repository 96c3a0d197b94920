package generators

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	response *genai.GenerateContentResponse
	err      error
	model    string
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	return f.response, f.err
}

func TestGeminiGenerateAnswer(t *testing.T) {
	fake := &fakeModels{response: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:     genai.NewContentFromText(" a cat ", genai.RoleModel),
			AvgLogprobs: math.Log(0.92),
		}},
	}}
	g := newGemini(fake, "vqa-model", "image-model")

	ans, err := g.GenerateAnswer(context.Background(), []byte("\x89PNG\r\n\x1a\n"), "what animal is this?")
	require.NoError(t, err)
	assert.Equal(t, "a cat", ans.Text)
	assert.InDelta(t, 0.92, ans.Confidence, 1e-9)
	assert.Equal(t, "vqa-model", fake.model)
}

func TestGeminiGenerateAnswerWithoutLogprobs(t *testing.T) {
	fake := &fakeModels{response: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("a dog", genai.RoleModel)}},
	}}
	ans, err := newGemini(fake, "vqa", "img").GenerateAnswer(context.Background(), nil, "q")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ans.Confidence)

	fake.err = errors.New("quota exceeded")
	_, err = newGemini(fake, "vqa", "img").GenerateAnswer(context.Background(), nil, "q")
	assert.Error(t, err)
}

func TestGeminiGenerateImage(t *testing.T) {
	fake := &fakeModels{response: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromText("here you go"),
				genai.NewPartFromBytes([]byte("png bytes"), "image/png"),
			}, genai.RoleModel),
		}},
	}}
	g := newGemini(fake, "vqa", "image-model")
	assert.Equal(t, "image-model", g.ModelID())

	seed := int64(7)
	result, err := g.Generate(context.Background(), ImageRequest{Prompt: "a barn", Width: 512, Height: 512, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), result.Image)
	assert.Equal(t, int64(7), result.SeedUsed)
	require.NotNil(t, fake.config.Seed)
	assert.Equal(t, int32(7), *fake.config.Seed)

	fake.response = &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("I cannot draw that", genai.RoleModel)}},
	}
	_, err = g.Generate(context.Background(), ImageRequest{Prompt: "a barn", Width: 512, Height: 512})
	assert.Error(t, err)
}
