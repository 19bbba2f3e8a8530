// Package gallery serves a browsable, filterable gallery of classified images.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/tstromberg/chromasort/pkg/chromasort"
)

// Server is the gallery web app.
type Server struct {
	ctx     context.Context
	title   string
	lib     *chromasort.Library
	p       *chromasort.Pipeline
	display *chromasort.Display
	hub     *Hub

	wg      sync.WaitGroup
	mu      sync.Mutex
	message string
	roots   []string
}

// New creates a new server. Background ingests run until ctx is cancelled.
func New(ctx context.Context, title string, lib *chromasort.Library, p *chromasort.Pipeline, d *chromasort.Display) *Server {
	s := &Server{
		ctx:     ctx,
		title:   title,
		lib:     lib,
		p:       p,
		display: d,
		hub:     NewHub(),
	}
	p.Progress = func(pr chromasort.Progress) {
		s.hub.Broadcast(Status{Busy: true, Message: pr.String(), Index: pr.Index, Total: pr.Total})
	}
	return s
}

// Handler returns the routes served by the gallery.
func (s *Server) Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("GET /{$}", s.IndexHandler())
	m.HandleFunc("GET /api/view", s.ViewHandler())
	m.HandleFunc("GET /image/{id}", s.ImageHandler())
	m.HandleFunc("GET /status", s.hub.Handler())
	m.HandleFunc("POST /scan", s.ScanHandler())
	m.HandleFunc("POST /color", s.ColorHandler())
	m.HandleFunc("POST /tag", s.TagHandler())
	m.HandleFunc("POST /clear", s.ClearHandler())
	m.HandleFunc("POST /dismiss", s.DismissHandler())
	return m
}

// Roots returns the folders that have been scanned.
func (s *Server) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.roots)
}

// Message returns the error message currently shown to the user.
func (s *Server) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Server) setMessage(m string) {
	s.mu.Lock()
	s.message = m
	s.mu.Unlock()
}

// Wait blocks until background ingests have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Find scans dir for images. An empty dir is a cancelled selection and returns no files.
func (s *Server) Find(dir string) ([]*chromasort.File, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	s.setMessage("")
	s.hub.Broadcast(Status{Busy: true, Message: fmt.Sprintf("Scanning folder %q...", filepath.Base(dir))})
	fs, err := chromasort.Find(dir)
	if err != nil {
		klog.Errorf("find %s: %v", dir, err)
		s.hub.Broadcast(Status{Message: "", Error: err.Error()})
		if errors.Is(err, chromasort.ErrAccessDenied) {
			s.setMessage("Could not access the folder. Please try again.")
		} else {
			s.setMessage(fmt.Sprintf("Could not scan the folder: %v", err))
		}
		return nil, err
	}

	s.mu.Lock()
	if !slices.Contains(s.roots, dir) {
		s.roots = append(s.roots, dir)
	}
	s.mu.Unlock()

	klog.Infof("found %d images in %s", len(fs), dir)
	return fs, nil
}

// Ingest classifies the files not yet in the library, waiting for any running ingest to finish first.
func (s *Server) Ingest(ctx context.Context, fs []*chromasort.File) error {
	if len(s.lib.Unseen(fs)) == 0 {
		s.idle()
		return nil
	}

	_, err := s.lib.IngestWait(ctx, s.p, fs)
	var be *chromasort.BatchError
	switch {
	case errors.As(err, &be):
		s.setMessage(fmt.Sprintf("Could not process %d image(s). Check the logs and API key.", len(be.Failed)))
	case err != nil:
		s.setMessage(err.Error())
	}

	st := Status{Message: "done"}
	if err != nil {
		st.Error = err.Error()
	}
	s.hub.Broadcast(st)
	return err
}

// idle clears the scanning indicator unless an ingest is still reporting progress.
func (s *Server) idle() {
	if !s.lib.Busy() {
		s.hub.Broadcast(Status{})
	}
}

// Scan finds and ingests the images within dir.
func (s *Server) Scan(ctx context.Context, dir string) error {
	fs, err := s.Find(dir)
	if err != nil {
		return err
	}
	return s.Ingest(ctx, fs)
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// IndexHandler renders the gallery.
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := s.hub.Last()
		st.Busy = st.Busy && s.lib.Busy()
		bs, err := render(page{
			Title:   s.title,
			View:    s.lib.View(),
			Status:  st,
			Message: s.Message(),
		})
		if err != nil {
			klog.Errorf("render: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(bs); err != nil {
			klog.Warningf("write: %v", err)
		}
	}
}

type imageJSON struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Colors []string `json:"colors"`
	Tags   []string `json:"tags"`
}

type viewJSON struct {
	Images  []imageJSON `json:"images"`
	Visible []string    `json:"visible"`
	Colors  []string    `json:"colors"`
	Tags    []string    `json:"tags"`
	Color   string      `json:"selectedColor"`
	Tag     string      `json:"selectedTag"`
	Busy    bool        `json:"busy"`
	Message string      `json:"message"`
}

// ViewHandler returns the library state as JSON.
func (s *Server) ViewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v := s.lib.View()
		out := viewJSON{
			Images:  []imageJSON{},
			Visible: []string{},
			Colors:  v.Colors,
			Tags:    v.Tags,
			Color:   v.Color,
			Tag:     v.Tag,
			Busy:    s.lib.Busy(),
			Message: s.Message(),
		}
		for _, i := range v.Images {
			out.Images = append(out.Images, imageJSON{ID: i.ID, Name: i.File.Name, URL: "/image/" + i.ID, Colors: i.Colors, Tags: i.Tags})
		}
		for _, i := range v.Visible {
			out.Visible = append(out.Visible, i.ID)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			klog.Warningf("encode: %v", err)
		}
	}
}

// ImageHandler serves the display rendition of an image.
func (s *Server) ImageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, ok := s.lib.Image(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		t, ok := s.display.Get(i.Handle)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", t.MediaType)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		if _, err := w.Write(t.Data); err != nil {
			klog.Warningf("write: %v", err)
		}
	}
}

// ScanHandler scans the submitted folder and ingests its images in the background,
// after any ingest that is already running.
func (s *Server) ScanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs, err := s.Find(r.FormValue("dir"))
		if err != nil {
			s.redirect(w, r)
			return
		}
		if len(fs) == 0 {
			s.idle()
			s.redirect(w, r)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Ingest(s.ctx, fs); err != nil {
				klog.Errorf("ingest: %v", err)
			}
		}()
		s.redirect(w, r)
	}
}

// ColorHandler selects a color filter. An empty color shows all images.
func (s *Server) ColorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lib.SelectColor(r.FormValue("color"))
		s.redirect(w, r)
	}
}

// TagHandler selects a tag filter. An empty tag shows all images.
func (s *Server) TagHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lib.SelectTag(r.FormValue("tag"))
		s.redirect(w, r)
	}
}

// ClearHandler discards every image and filter.
func (s *Server) ClearHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.lib.Busy() {
			http.Error(w, chromasort.ErrBusy.Error(), http.StatusConflict)
			return
		}
		klog.Infof("clearing %d images", len(s.lib.View().Images))
		s.lib.ClearAll()
		s.setMessage("")
		s.redirect(w, r)
	}
}

// DismissHandler hides the current error message.
func (s *Server) DismissHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setMessage("")
		s.redirect(w, r)
	}
}
