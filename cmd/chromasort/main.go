// chromasort serves a gallery of local pictures organized by dominant color and tag.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/chromasort/pkg/chromasort"
	"github.com/tstromberg/chromasort/pkg/gallery"
)

var (
	inDir       = flag.String("in", "", "Folder to scan at startup (optional)")
	addr        = flag.String("addr", "localhost:12800", "host:port to bind to")
	title       = flag.String("title", "ChromaSort", "Title of the gallery page")
	model       = flag.String("model", chromasort.DefaultModel, "Gemini model to classify with")
	local       = flag.Bool("local", false, "classify locally by clustering pixels instead of calling Gemini")
	concurrency = flag.Int("j", 1, "maximum classification requests in flight")
	qps         = flag.Float64("qps", 0, "maximum classification requests per second (0 for unlimited)")
	watchFlag   = flag.Bool("watch", false, "watch scanned folders for new images")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.Warningf("unable to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &chromasort.Config{
		Model:       *model,
		APIKey:      chromasort.APIKeyFromEnv(),
		Concurrency: *concurrency,
		QPS:         *qps,
		Thumb:       chromasort.DefaultThumbOpts,
		Local:       *local,
	}

	cl, err := chromasort.NewClassifier(ctx, c)
	if err != nil {
		klog.Exitf("classifier: %v (set one of %v, or use --local)", err, chromasort.APIKeyVars)
	}

	d := chromasort.NewDisplay(c.Thumb)
	lib := chromasort.NewLibrary(d)
	s := gallery.New(ctx, *title, lib, chromasort.NewPipeline(c, cl, d), d)

	if *inDir != "" {
		if err := s.Scan(ctx, *inDir); err != nil {
			klog.Errorf("scan %s: %v", *inDir, err)
		}
	}

	var wg sync.WaitGroup
	if *watchFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watch(ctx, s); err != nil {
				klog.Errorf("watch: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(ctx, s.Handler(), *addr)
	}()

	wg.Wait()
	s.Wait()
}

// serve serves the gallery via HTTP until ctx is cancelled.
func serve(ctx context.Context, h http.Handler, addr string) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			klog.Errorf("shutdown: %v", err)
		}
	}()

	klog.Infof("Listening on http://%s/ ...", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Exitf("listen failed: %v", err)
	}
}

// watch rescans folders as they change, ingesting images that have not been seen yet.
func watch(ctx context.Context, s *gallery.Server) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	watched := []string{}
	add := func() {
		for _, root := range s.Roots() {
			dirs, err := chromasort.Dirs(root)
			if err != nil {
				klog.Warningf("dirs %s: %v", root, err)
				continue
			}
			for _, d := range dirs {
				if slices.Contains(watched, d) {
					continue
				}
				if err := w.Add(d); err != nil {
					klog.Warningf("watch %s: %v", d, err)
					continue
				}
				watched = append(watched, d)
			}
		}
	}

	// Roots appear as folders are scanned from the browser.
	poll := time.NewTicker(5 * time.Second)
	defer poll.Stop()
	add()

	// Bursts of events are coalesced into a single rescan.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			add()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(1).Infof("event: %v", event)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(2 * time.Second)
			}
		case <-pending:
			pending = nil
			add()
			for _, root := range s.Roots() {
				if err := s.Scan(ctx, root); err != nil {
					klog.Errorf("rescan %s: %v", root, err)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		}
	}
}
