package identify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tbourn/boss-title-updater/internal/retry"
)

// GeminiVision asks a Gemini model with inline image parts. Remote images
// are downloaded first because the Gemini API only accepts inline bytes or
// uploaded files.
type GeminiVision struct {
	Client *genai.Client
	Model  string
	HTTP   *http.Client
}

// NewGeminiVision builds a Gemini API client for apiKey. Model defaults to
// gemini-2.5-flash.
func NewGeminiVision(ctx context.Context, apiKey, model string) (*GeminiVision, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiVision{Client: client, Model: model, HTTP: &http.Client{Timeout: 30 * time.Second}}, nil
}

// Ask implements Vision.
func (v *GeminiVision) Ask(ctx context.Context, prompt string, images []string) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, img := range images {
		data, mime, err := v.load(ctx, img)
		if err != nil {
			return "", err
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}

	resp, err := v.Client.Models.GenerateContent(ctx, v.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
	if err != nil {
		return "", classifyGemini(err)
	}
	return resp.Text(), nil
}

func (v *GeminiVision) load(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}
	hc := v.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch image: %s", res.Status)
		if permanentStatus(res.StatusCode) {
			return nil, "", retry.Permanent(err)
		}
		return nil, "", err
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, "", err
	}
	mime := res.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// decodeDataURL parses "data:<mime>;base64,<payload>".
func decodeDataURL(s string) ([]byte, string, error) {
	head, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(head, ";base64") {
		return nil, "", retry.Permanent(errors.New("malformed data URL"))
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", retry.Permanent(fmt.Errorf("data URL: %w", err))
	}
	mime := strings.TrimSuffix(head, ";base64")
	if mime == "" {
		mime = "image/jpeg"
	}
	return data, mime, nil
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && permanentStatus(apiErr.Code) {
		return retry.Permanent(err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && permanentStatus(apiErrPtr.Code) {
		return retry.Permanent(err)
	}
	return err
}
