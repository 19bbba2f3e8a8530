package chromasort

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// mediaTypes maps recognized image extensions to their declared media type.
var mediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// File is an image file found within a scanned directory.
type File struct {
	Path    string
	RelPath string
	Name    string
	Size    int64
	ModTime time.Time
}

// MediaType returns the declared media type of the file, based on its extension.
func (f *File) MediaType() string {
	return mediaTypes[strings.ToLower(filepath.Ext(f.Name))]
}

// Read returns the raw bytes of the file and its media type.
func (f *File) Read() ([]byte, string, error) {
	bs, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read: %w", err)
	}
	return bs, f.MediaType(), nil
}

// Key identifies a file for de-duplication purposes: two files with the same
// name and size are considered the same image.
type Key struct {
	Name string
	Size int64
}

// Key returns the identity key of the file.
func (f *File) Key() Key {
	return Key{Name: f.Name, Size: f.Size}
}

// Analysis is the result of classifying a single image.
type Analysis struct {
	Colors []string `json:"colors"`
	Tags   []string `json:"tags"`
}

// Image represents a classified photo.
type Image struct {
	ID     string
	File   *File
	Handle string

	Colors []string
	Tags   []string
}
