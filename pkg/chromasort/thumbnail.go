package chromasort

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ThumbOpts are thumbnail options. A zero X or Y preserves the aspect ratio.
type ThumbOpts struct {
	X       int
	Y       int
	Quality int
}

// DefaultThumbOpts matches the gallery tile size.
var DefaultThumbOpts = ThumbOpts{Y: 360, Quality: 80}

// Thumb is the displayable rendition of an image.
type Thumb struct {
	Data      []byte
	MediaType string
	X         int
	Y         int
}

// Display holds the displayable renditions of ingested images, keyed by handle.
// Handles must be released once their image is discarded.
type Display struct {
	opts ThumbOpts

	mu     sync.RWMutex
	thumbs map[string]*Thumb
}

// NewDisplay returns an empty display store.
func NewDisplay(t ThumbOpts) *Display {
	if t.X == 0 && t.Y == 0 {
		t = DefaultThumbOpts
	}
	if t.Quality == 0 {
		t.Quality = DefaultThumbOpts.Quality
	}
	return &Display{opts: t, thumbs: map[string]*Thumb{}}
}

// Open creates a display handle for a file. Images that can not be decoded are kept as-is.
func (d *Display) Open(f *File) (string, error) {
	bs, mt, err := f.Read()
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	t, err := createThumb(bs, d.opts)
	if err != nil {
		klog.Warningf("unable to create thumbnail for %s, using original: %v", f.Path, err)
		t = &Thumb{Data: bs, MediaType: mt}
	}

	h := uuid.NewString()
	d.mu.Lock()
	d.thumbs[h] = t
	d.mu.Unlock()
	return h, nil
}

// Get returns the rendition for a handle.
func (d *Display) Get(h string) (*Thumb, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.thumbs[h]
	return t, ok
}

// Release discards the rendition for a handle.
func (d *Display) Release(h string) {
	d.mu.Lock()
	delete(d.thumbs, h)
	d.mu.Unlock()
}

// Len returns the number of open handles.
func (d *Display) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.thumbs)
}

func createThumb(bs []byte, t ThumbOpts) (*Thumb, error) {
	i, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if i.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("no Y for %+v", i.Bounds())
	}

	if i.Bounds().Dx() == 0 {
		return nil, fmt.Errorf("no X for %+v", i.Bounds())
	}

	x := t.X
	y := t.Y
	if t.X == 0 {
		scale := float64(i.Bounds().Dy()) / float64(t.Y)
		x = int(float64(i.Bounds().Dx()) / scale)
	}

	if t.Y == 0 {
		scale := float64(i.Bounds().Dx()) / float64(t.X)
		y = int(float64(i.Bounds().Dy()) / scale)
	}
	if x < 1 {
		x = 1
	}
	if y < 1 {
		y = 1
	}

	rimg := transform.Resize(i, x, y, transform.Lanczos)
	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(t.Quality)(&buf, rimg); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &Thumb{
		Data:      buf.Bytes(),
		MediaType: "image/jpeg",
		X:         rimg.Bounds().Dx(),
		Y:         rimg.Bounds().Dy(),
	}, nil
}
