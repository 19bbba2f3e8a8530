package chromasort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

// ErrMissingAPIKey is returned when a Gemini classifier is constructed without credentials.
var ErrMissingAPIKey = errors.New("API key not set")

// DefaultTimeout bounds a single classification request.
var DefaultTimeout = 2 * time.Minute

// Prompt is the instruction sent alongside every image.
var Prompt = "Analyze this image. Identify the 5 most dominant colors and generate 3-4 descriptive tags " +
	"based on the color palette (e.g., 'Warm Tones', 'Cool Blues', 'Earthy', 'Monochromatic', 'Vibrant'). " +
	"Return a JSON object with two keys: 'colors' (an array of hex color codes) and 'tags' (an array of strings). " +
	"Example: {\"colors\": [\"#RRGGBB\"], \"tags\": [\"Earthy\", \"Muted\"]}. Only return the JSON object."

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"colors": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString, Description: "A hex color code, e.g., #FFFFFF"},
		},
		"tags": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString, Description: "A descriptive color tag, e.g., Warm Tones"},
		},
	},
}

// Classifier extracts colors and tags from an image file.
type Classifier interface {
	Classify(ctx context.Context, f *File) (*Analysis, error)
}

// ClassificationError describes a failure to classify a single file.
type ClassificationError struct {
	Name string
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.Name, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// GeminiConfig configures a Gemini classifier.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini classifies images with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	gc     *genai.GenerateContentConfig
}

// NewGemini returns a Gemini classifier. It fails immediately if no API key is configured.
func NewGemini(ctx context.Context, c GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}

	cfg := &genai.ClientConfig{
		APIKey:     c.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if c.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = c.BaseURL
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	model := c.Model
	if model == "" {
		model = DefaultModel
	}

	return &Gemini{
		client: client,
		model:  model,
		gc: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   responseSchema,
		},
	}, nil
}

// Classify sends a single request for the image. It does not retry.
func (g *Gemini) Classify(ctx context.Context, f *File) (*Analysis, error) {
	bs, mt, err := f.Read()
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(bs, mt),
		genai.NewPartFromText(Prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	klog.V(1).Infof("classifying %s (%d bytes, %s) with %s", f.Path, len(bs), mt, g.model)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.gc)
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}

	a, problems, err := DecodeAnalysis(text)
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}
	for _, p := range problems {
		klog.V(1).Infof("%s: %s", f.Name, p)
	}
	return a, nil
}

// DecodeAnalysis validates a JSON response. A missing response, a missing field, or a field
// that is not an array of strings yields an empty list for that field along with a description
// of the problem. Only text that is not JSON at all is an error.
func DecodeAnalysis(text string) (*Analysis, []string, error) {
	a := &Analysis{Colors: []string{}, Tags: []string{}}
	text = strings.TrimSpace(text)
	if text == "" {
		return a, []string{"empty response"}, nil
	}

	if !json.Valid([]byte(text)) {
		return nil, nil, fmt.Errorf("invalid JSON response: %.80q", text)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return a, []string{"response is not an object"}, nil
	}

	var problems []string
	a.Colors, problems = stringField(obj, "colors", problems)
	a.Tags, problems = stringField(obj, "tags", problems)
	return a, problems, nil
}

func stringField(obj map[string]json.RawMessage, name string, problems []string) ([]string, []string) {
	raw, ok := obj[name]
	if !ok {
		return []string{}, append(problems, name+": missing")
	}

	var ss []string
	if strings.TrimSpace(string(raw)) == "null" {
		return []string{}, append(problems, name+": null")
	}
	if err := json.Unmarshal(raw, &ss); err != nil {
		return []string{}, append(problems, name+": not an array of strings")
	}
	return ss, problems
}
