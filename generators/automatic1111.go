package generators

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const Automatic1111ModelID = "automatic1111"

// Automatic1111 calls the txt2img endpoint of a Stable Diffusion WebUI
// instance started with --api.
type Automatic1111 struct {
	host   string
	client *http.Client
}

func NewAutomatic1111(host string, client *http.Client) (*Automatic1111, error) {
	if host == "" {
		return nil, errors.New("missing host")
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Automatic1111{
		host:   strings.TrimRight(host, "/"),
		client: client,
	}, nil
}

func (a *Automatic1111) ModelID() string {
	return Automatic1111ModelID
}

type textToImageRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	BatchSize      int     `json:"batch_size"`
	Seed           int64   `json:"seed"`
	CfgScale       float64 `json:"cfg_scale"`
	Steps          int     `json:"steps"`
	NIter          int     `json:"n_iter"`
}

type jsonTextToImageResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type jsonInfoResponse struct {
	Seed     int64   `json:"seed"`
	AllSeeds []int64 `json:"all_seeds"`
}

func (a *Automatic1111) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	start := time.Now()
	postURL := a.host + "/sdapi/v1/txt2img"

	seed := int64(-1) // webui picks a random seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	jsonData, err := json.Marshal(&textToImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		BatchSize:      1,
		Seed:           seed,
		CfgScale:       req.GuidanceScale,
		Steps:          req.Steps,
		NIter:          1,
	})
	if err != nil {
		return ImageResult{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return ImageResult{}, err
	}
	request.Header.Set("Content-Type", "application/json; charset=UTF-8")

	response, err := a.client.Do(request)
	if err != nil {
		log.Printf("automatic1111: request to %s failed: %v", postURL, err)
		return ImageResult{}, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return ImageResult{}, fmt.Errorf("failed to read txt2img response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		log.Printf("automatic1111: unexpected status %d: %s", response.StatusCode, string(body))
		return ImageResult{}, fmt.Errorf("txt2img returned status %d", response.StatusCode)
	}

	respStruct := &jsonTextToImageResponse{}
	if err = json.Unmarshal(body, respStruct); err != nil {
		log.Printf("automatic1111: unexpected API response: %s", string(body))
		return ImageResult{}, fmt.Errorf("failed to decode txt2img response: %w", err)
	}
	if len(respStruct.Images) == 0 {
		return ImageResult{}, errors.New("txt2img returned no images")
	}

	infoStruct := &jsonInfoResponse{}
	if err = json.Unmarshal([]byte(respStruct.Info), infoStruct); err != nil {
		log.Printf("automatic1111: unexpected info payload: %s", respStruct.Info)
		return ImageResult{}, fmt.Errorf("failed to decode txt2img info: %w", err)
	}

	seedUsed := infoStruct.Seed
	if len(infoStruct.AllSeeds) > 0 {
		seedUsed = infoStruct.AllSeeds[0]
	}

	// some builds prefix the payload with a data URI header
	encoded := respStruct.Images[0]
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	imageBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ImageResult{}, fmt.Errorf("failed to decode txt2img image: %w", err)
	}

	return ImageResult{Image: imageBytes, SeedUsed: seedUsed, Duration: time.Since(start)}, nil
}
