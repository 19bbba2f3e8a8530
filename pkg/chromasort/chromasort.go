// Package chromasort organizes pictures by their dominant colors and descriptive tags.
package chromasort

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultModel is the Gemini model used when none is configured.
var DefaultModel = "gemini-2.5-flash"

// APIKeyVars are the environment variables consulted for the Gemini API key, in order.
var APIKeyVars = []string{"GOOGLE_AI_API_KEY", "API_KEY"}

// Config holds configuration for chromasort.
type Config struct {
	InDirs      []string
	Model       string
	APIKey      string
	Concurrency int
	// QPS caps classification requests per second. Zero means unlimited.
	QPS   float64
	Thumb ThumbOpts
	// Local classifies by clustering pixels rather than calling Gemini.
	Local bool
}

// APIKeyFromEnv returns the first non-empty API key found in the environment.
func APIKeyFromEnv() string {
	for _, k := range APIKeyVars {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// NewClassifier returns the classifier selected by c.
func NewClassifier(ctx context.Context, c *Config) (Classifier, error) {
	if c.Local {
		return NewPalette(), nil
	}
	return NewGemini(ctx, GeminiConfig{APIKey: c.APIKey, Model: c.Model})
}

// Collect scans every input directory and ingests the images not yet in the library.
func Collect(ctx context.Context, c *Config, lib *Library, p *Pipeline) error {
	fs := []*File{}
	for _, d := range c.InDirs {
		found, err := Find(d)
		if err != nil {
			return fmt.Errorf("find: %w", err)
		}
		fs = append(fs, found...)
	}

	_, err := lib.Ingest(ctx, p, lib.Unseen(fs))
	return err
}
