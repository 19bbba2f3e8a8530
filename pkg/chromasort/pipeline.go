package chromasort

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// Progress describes the file currently being analyzed.
type Progress struct {
	Index int
	Total int
	Name  string
}

func (p Progress) String() string {
	return fmt.Sprintf("Analyzing %s... (%d/%d)", p.Name, p.Index+1, p.Total)
}

// ProgressFunc observes pipeline progress. With Concurrency above 1 it is called from multiple goroutines.
type ProgressFunc func(Progress)

// Pipeline classifies batches of files.
type Pipeline struct {
	Classifier Classifier
	Display    *Display
	// Concurrency is the maximum number of requests in flight. Values below 2 process files sequentially.
	Concurrency int
	Limiter     *rate.Limiter
	Progress    ProgressFunc
}

// NewPipeline returns a pipeline configured from c.
func NewPipeline(c *Config, cl Classifier, d *Display) *Pipeline {
	p := &Pipeline{
		Classifier:  cl,
		Display:     d,
		Concurrency: c.Concurrency,
	}
	if c.QPS > 0 {
		p.Limiter = rate.NewLimiter(rate.Limit(c.QPS), 1)
	}
	return p
}

// Batch is the outcome of classifying a set of files.
type Batch struct {
	Total    int
	Images   []*Image
	Failures []*ClassificationError
}

// Failed returns the names of the files that could not be classified.
func (b *Batch) Failed() []string {
	names := []string{}
	for _, f := range b.Failures {
		names = append(names, f.Name)
	}
	return names
}

// Err returns a summary error if any file failed.
func (b *Batch) Err() error {
	if len(b.Failures) == 0 {
		return nil
	}
	return &BatchError{Total: b.Total, Failed: b.Failed()}
}

// BatchError summarizes the files that failed within a batch.
type BatchError struct {
	Total  int
	Failed []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("could not process %d of %d image(s): %s", len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}

// Run classifies every file, continuing past individual failures. Images are returned in input order.
func (p *Pipeline) Run(ctx context.Context, files []*File) *Batch {
	images := make([]*Image, len(files))
	errs := make([]*ClassificationError, len(files))

	limit := p.Concurrency
	if limit < 1 {
		limit = 1
	}

	g := &errgroup.Group{}
	g.SetLimit(limit)

	for i, f := range files {
		if ctx.Err() != nil {
			errs[i] = &ClassificationError{Name: f.Name, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			images[i], errs[i] = p.process(ctx, i, len(files), f)
			return nil
		})
	}
	_ = g.Wait()

	b := &Batch{Total: len(files), Images: []*Image{}}
	for i := range files {
		if errs[i] != nil {
			b.Failures = append(b.Failures, errs[i])
			continue
		}
		b.Images = append(b.Images, images[i])
	}
	return b
}

func (p *Pipeline) process(ctx context.Context, i int, total int, f *File) (*Image, *ClassificationError) {
	if p.Progress != nil {
		p.Progress(Progress{Index: i, Total: total, Name: f.Name})
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, &ClassificationError{Name: f.Name, Err: err}
		}
	}

	a, err := p.Classifier.Classify(ctx, f)
	if err != nil {
		klog.Errorf("failed to process %s: %v", f.Path, err)
		var ce *ClassificationError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	img := &Image{
		ID:     uuid.NewString(),
		File:   f,
		Colors: a.Colors,
		Tags:   a.Tags,
	}
	if img.Colors == nil {
		img.Colors = []string{}
	}
	if img.Tags == nil {
		img.Tags = []string{}
	}

	if p.Display != nil {
		h, err := p.Display.Open(f)
		if err != nil {
			klog.Errorf("failed to open %s for display: %v", f.Path, err)
			return nil, &ClassificationError{Name: f.Name, Err: err}
		}
		img.Handle = h
	}

	klog.Infof("%s: colors=%v tags=%v", f.RelPath, img.Colors, img.Tags)
	return img, nil
}
