// autotag writes suggested color tags into the Keywords of images using Gemini.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/barasher/go-exiftool"
	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/chromasort/pkg/chromasort"
)

var (
	dryRun      = flag.Bool("n", false, "dry-run mode, don't tag things")
	overwrite   = flag.Bool("o", false, "overwrite existing tags")
	model       = flag.String("model", chromasort.DefaultModel, "Gemini model to classify with")
	local       = flag.Bool("local", false, "classify locally by clustering pixels instead of calling Gemini")
	concurrency = flag.Int("j", 1, "maximum classification requests in flight")
	qps         = flag.Float64("qps", 0, "maximum classification requests per second (0 for unlimited)")
	maxTags     = flag.Int("max", 5, "maximum number of keywords to write")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if len(flag.Args()) == 0 {
		klog.Exitf("No input directories provided. Usage: %s [flags] <input_dir1> [input_dir2 ...]", os.Args[0])
	}
	if *maxTags < 0 {
		klog.Exitf("-max must not be negative, got %d", *maxTags)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.Warningf("unable to load .env: %v", err)
	}

	ctx := context.Background()
	c := &chromasort.Config{
		InDirs:      flag.Args(),
		Model:       *model,
		APIKey:      chromasort.APIKeyFromEnv(),
		Concurrency: *concurrency,
		QPS:         *qps,
		Local:       *local,
	}

	cl, err := chromasort.NewClassifier(ctx, c)
	if err != nil {
		klog.Exitf("classifier: %v", err)
	}

	e, err := exiftool.NewExiftool()
	if err != nil {
		klog.Exitf("exiftool: %v", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	klog.Infof("Collecting images from %v ...", c.InDirs)
	todo := []*chromasort.File{}
	for _, d := range c.InDirs {
		fs, err := chromasort.Find(d)
		if err != nil {
			klog.Exitf("unable to collect: %v", err)
		}
		for _, f := range fs {
			if !*overwrite {
				if kw := keywords(e, f.Path); len(kw) > 0 {
					klog.Infof("%s has tags: %v", f.Path, kw)
					continue
				}
			}
			todo = append(todo, f)
		}
	}

	lib := chromasort.NewLibrary(nil)
	_, ingestErr := lib.Ingest(ctx, chromasort.NewPipeline(c, cl, nil), lib.Unseen(todo))

	is := lib.View().Images
	for _, i := range is {
		tags := firstN(i.Tags, *maxTags)
		klog.Infof("adding tags to %s: %v", i.File.Path, tags)
		if *dryRun {
			continue
		}
		if err := writeKeywords(e, i.File.Path, tags); err != nil {
			klog.Errorf("Failed to write metadata for %s: %v", i.File.Path, err)
		}
	}

	fmt.Println(chromasort.Table(is))
	if ingestErr != nil {
		klog.Errorf("%v", ingestErr)
	}
	klog.Infof("autotag completed. Tagged %d images across %d directories", len(is), len(c.InDirs))
}

// firstN returns at most n tags.
func firstN(tags []string, n int) []string {
	n = max(0, min(n, len(tags)))
	return tags[:n]
}

func keywords(e *exiftool.Exiftool, path string) []string {
	fms := e.ExtractMetadata(path)
	if len(fms) == 0 || fms[0].Err != nil {
		return nil
	}
	kw, err := fms[0].GetStrings("Keywords")
	if err != nil {
		klog.V(1).Infof("no keywords for %s: %v", path, err)
		return nil
	}
	return kw
}

func writeKeywords(e *exiftool.Exiftool, path string, tags []string) error {
	fms := e.ExtractMetadata(path)
	if len(fms) == 0 {
		return fmt.Errorf("no metadata for %s", path)
	}
	if fms[0].Err != nil {
		return fmt.Errorf("extract: %w", fms[0].Err)
	}
	fms[0].SetStrings("Keywords", tags)
	e.WriteMetadata(fms)
	return fms[0].Err
}
