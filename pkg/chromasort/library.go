package chromasort

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"k8s.io/klog/v2"
)

// ErrBusy is returned when an ingest is requested while another is still running.
var ErrBusy = errors.New("ingest already in progress")

// Library is the collection of classified images, their facets, and the current filter selection.
type Library struct {
	display *Display
	// ingest holds a token while an ingest runs.
	ingest chan struct{}

	mu     sync.RWMutex
	images []*Image
	colors []string
	tags   []string
	color  string
	tag    string
}

// View is a point-in-time copy of the library state.
type View struct {
	Images  []*Image
	Visible []*Image
	Colors  []string
	Tags    []string
	Color   string
	Tag     string
}

// NewLibrary returns an empty library whose display handles live in d, which may be nil.
func NewLibrary(d *Display) *Library {
	return &Library{
		display: d,
		ingest:  make(chan struct{}, 1),
		images:  []*Image{},
		colors:  []string{},
		tags:    []string{},
	}
}

// Ingest classifies files with p and merges the results. It returns the number of images added,
// and a *BatchError if any file failed. Only one ingest runs at a time; a concurrent call returns ErrBusy.
func (l *Library) Ingest(ctx context.Context, p *Pipeline, files []*File) (int, error) {
	select {
	case l.ingest <- struct{}{}:
	default:
		return 0, ErrBusy
	}
	defer func() { <-l.ingest }()
	return l.run(ctx, p, files)
}

// IngestWait is like Ingest, but waits for a running ingest to finish instead of returning ErrBusy.
// Files merged by that ingest in the meantime are skipped.
func (l *Library) IngestWait(ctx context.Context, p *Pipeline, files []*File) (int, error) {
	select {
	case l.ingest <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.ingest }()
	return l.run(ctx, p, l.Unseen(files))
}

func (l *Library) run(ctx context.Context, p *Pipeline, files []*File) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	b := p.Run(ctx, files)
	added := l.Merge(b.Images)
	klog.Infof("ingested %d of %d image(s), %d failed", added, b.Total, len(b.Failures))
	return added, b.Err()
}

// Busy returns true while an ingest is running.
func (l *Library) Busy() bool {
	return len(l.ingest) > 0
}

// Merge adds images that are not already present, by name and size, and folds their colors and
// tags into the facets. Handles of rejected duplicates are released. It returns the number added.
func (l *Library) Merge(is []*Image) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[Key]bool{}
	for _, i := range l.images {
		seen[i.File.Key()] = true
	}

	added := []*Image{}
	for _, i := range is {
		k := i.File.Key()
		if seen[k] {
			klog.V(1).Infof("skipping duplicate %s (%d bytes)", k.Name, k.Size)
			l.release(i)
			continue
		}
		seen[k] = true
		added = append(added, i)
	}

	l.images = append(l.images, added...)
	for _, i := range added {
		l.colors = MergeFacet(l.colors, i.Colors)
		l.tags = MergeFacet(l.tags, i.Tags)
	}
	return len(added)
}

// Unseen returns the files that are not yet part of the library.
func (l *Library) Unseen(fs []*File) []*File {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := map[Key]bool{}
	for _, i := range l.images {
		seen[i.File.Key()] = true
	}

	out := []*File{}
	for _, f := range fs {
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		out = append(out, f)
	}
	return out
}

// MergeFacet returns the sorted union of a facet and new values, without duplicates.
func MergeFacet(facet []string, vals []string) []string {
	out := make([]string, 0, len(facet)+len(vals))
	out = append(out, facet...)
	out = append(out, vals...)
	sort.Strings(out)
	return slices.Compact(out)
}

// SelectColor filters by color, or clears the color filter if c is empty. Any tag filter is cleared.
func (l *Library) SelectColor(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = c
	l.tag = ""
}

// SelectTag filters by tag, or clears the tag filter if t is empty. Any color filter is cleared.
func (l *Library) SelectTag(t string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tag = t
	l.color = ""
}

// ClearAll discards every image, facet, and selection, releasing display handles.
func (l *Library) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, i := range l.images {
		l.release(i)
	}
	l.images = []*Image{}
	l.colors = []string{}
	l.tags = []string{}
	l.color = ""
	l.tag = ""
}

func (l *Library) release(i *Image) {
	if l.display != nil && i.Handle != "" {
		l.display.Release(i.Handle)
	}
}

// Image returns the image with the given ID.
func (l *Library) Image(id string) (*Image, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, i := range l.images {
		if i.ID == id {
			return i, true
		}
	}
	return nil, false
}

// View returns a snapshot of the library, including the images visible under the current selection.
func (l *Library) View() View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return View{
		Images:  slices.Clone(l.images),
		Visible: Visible(l.images, l.color, l.tag),
		Colors:  slices.Clone(l.colors),
		Tags:    slices.Clone(l.tags),
		Color:   l.color,
		Tag:     l.tag,
	}
}

// Visible returns the images containing color and tag. Empty values match everything.
func Visible(is []*Image, color string, tag string) []*Image {
	out := []*Image{}
	for _, i := range is {
		if color != "" && !slices.Contains(i.Colors, color) {
			continue
		}
		if tag != "" && !slices.Contains(i.Tags, tag) {
			continue
		}
		out = append(out, i)
	}
	return out
}
