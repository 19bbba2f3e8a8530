package chromasort

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// writeFile creates a file with the given contents, including any parent directories.
func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// writePNG creates a solid-color PNG.
func writePNG(t *testing.T, path string, c color.Color, w int, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

// fakeClassifier returns canned results keyed by file name.
type fakeClassifier struct {
	mu      sync.Mutex
	results map[string]*Analysis
	calls   []string
}

func (f *fakeClassifier) Classify(_ context.Context, file *File) (*Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, file.Name)
	a, ok := f.results[file.Name]
	if !ok {
		return nil, &ClassificationError{Name: file.Name, Err: errors.New("quota exceeded")}
	}
	return a, nil
}

func testFile(name string, size int64) *File {
	return &File{Path: filepath.Join("/nonexistent", name), RelPath: name, Name: name, Size: size}
}
