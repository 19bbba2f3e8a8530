// reorg copies pictures into folders named after their dominant colors and tags
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/chromasort/pkg/chromasort"
)

var (
	dryRun      = flag.Bool("n", false, "dry-run mode, don't copy things")
	outDir      = flag.String("out", "", "Location of output directory")
	color       = flag.String("color", "", "only export images containing this color")
	tag         = flag.String("tag", "", "only export images with this tag")
	local       = flag.Bool("local", false, "classify locally by clustering pixels instead of calling Gemini")
	model       = flag.String("model", chromasort.DefaultModel, "Gemini model to classify with")
	concurrency = flag.Int("j", 1, "maximum classification requests in flight")
	qps         = flag.Float64("qps", 0, "maximum classification requests per second (0 for unlimited)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *outDir == "" {
		klog.Exitf("--out is a required flag")
	}
	if len(flag.Args()) == 0 {
		klog.Exitf("No input directories provided. Usage: %s -out <output_dir> <input_dir1> [input_dir2 ...]", os.Args[0])
	}
	if *color != "" && *tag != "" {
		klog.Exitf("--color and --tag are mutually exclusive")
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

	lib := chromasort.NewLibrary(nil)
	if err := chromasort.Collect(ctx, c, lib, chromasort.NewPipeline(c, cl, nil)); err != nil {
		klog.Errorf("collect: %v", err)
	}

	if *color != "" {
		lib.SelectColor(*color)
	}
	if *tag != "" {
		lib.SelectTag(*tag)
	}

	v := lib.View()
	klog.Infof("exporting %d of %d images", len(v.Visible), len(v.Images))
	for _, i := range v.Visible {
		for _, dest := range destinations(*outDir, i) {
			klog.Infof("%s -> %s", i.File.Path, dest)
			if *dryRun {
				continue
			}
			if err := copy.Copy(i.File.Path, dest); err != nil {
				klog.Errorf("copy: %v", err)
			}
		}
	}
	fmt.Println(chromasort.Table(v.Visible))
}

// destinations returns where an image is copied to: once per color and once per tag.
func destinations(out string, i *chromasort.Image) []string {
	ds := []string{}
	for _, c := range i.Colors {
		ds = append(ds, filepath.Join(out, "colors", safeName(strings.TrimPrefix(c, "#")), i.File.Name))
	}
	for _, t := range i.Tags {
		ds = append(ds, filepath.Join(out, "tags", safeName(t), i.File.Name))
	}
	return ds
}

// safeName makes a facet value usable as a single path element.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
