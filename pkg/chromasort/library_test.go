package chromasort

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newImage(id string, name string, size int64, colors []string, tags []string) *Image {
	return &Image{ID: id, File: testFile(name, size), Colors: colors, Tags: tags}
}

func ids(is []*Image) []string {
	out := []string{}
	for _, i := range is {
		out = append(out, i.ID)
	}
	return out
}

func TestIngestScenario(t *testing.T) {
	fc := &fakeClassifier{results: map[string]*Analysis{
		"sunset.png": {Colors: []string{"#FF0000"}, Tags: []string{"Warm"}},
		"ocean.png":  {Colors: []string{"#0000FF"}, Tags: []string{"Cool"}},
	}}
	l := NewLibrary(nil)

	added, err := l.Ingest(context.Background(), &Pipeline{Classifier: fc}, []*File{
		testFile("sunset.png", 10),
		testFile("broken.png", 20),
		testFile("ocean.png", 30),
	})
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	var be *BatchError
	if !errors.As(err, &be) || len(be.Failed) != 1 {
		t.Fatalf("Ingest() error = %v, want 1 failure", err)
	}

	v := l.View()
	if len(v.Images) != 2 {
		t.Fatalf("got %d images, want 2", len(v.Images))
	}
	if diff := cmp.Diff([]string{"#0000FF", "#FF0000"}, v.Colors); diff != "" {
		t.Errorf("colors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Cool", "Warm"}, v.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	l.SelectColor("#FF0000")
	v = l.View()
	if len(v.Visible) != 1 || v.Visible[0].File.Name != "sunset.png" {
		t.Errorf("visible = %v, want only sunset.png", v.Visible)
	}
}

func TestIngestBusy(t *testing.T) {
	l := NewLibrary(nil)
	l.ingest <- struct{}{}
	defer func() { <-l.ingest }()

	if !l.Busy() {
		t.Error("Busy() = false during ingest")
	}
	if _, err := l.Ingest(context.Background(), &Pipeline{Classifier: &fakeClassifier{}}, []*File{testFile("a.png", 1)}); !errors.Is(err, ErrBusy) {
		t.Errorf("Ingest() error = %v, want ErrBusy", err)
	}
}

func TestIngestWait(t *testing.T) {
	l := NewLibrary(nil)
	fc := &fakeClassifier{results: map[string]*Analysis{
		"a.png": {Colors: []string{"#FF0000"}, Tags: []string{"Warm"}},
		"b.png": {Colors: []string{"#0000FF"}, Tags: []string{"Cool"}},
	}}
	p := &Pipeline{Classifier: fc}

	// Another ingest holds the library.
	l.ingest <- struct{}{}

	type result struct {
		n   int
		err error
	}
	done := make(chan result)
	go func() {
		n, err := l.IngestWait(context.Background(), p, []*File{testFile("a.png", 1), testFile("b.png", 2)})
		done <- result{n, err}
	}()

	// It merges a.png while the waiter is blocked.
	l.Merge([]*Image{newImage("1", "a.png", 1, []string{"#FF0000"}, []string{"Warm"})})
	<-l.ingest

	r := <-done
	if r.err != nil || r.n != 1 {
		t.Fatalf("IngestWait() = %d, %v, want 1, nil", r.n, r.err)
	}
	if n := len(l.View().Images); n != 2 {
		t.Errorf("got %d images, want 2", n)
	}
	if diff := cmp.Diff([]string{"b.png"}, fc.calls); diff != "" {
		t.Errorf("classified mismatch (-want +got):\n%s", diff)
	}
	if l.Busy() {
		t.Error("Busy() = true after ingest")
	}
}

func TestIngestWaitCancelled(t *testing.T) {
	l := NewLibrary(nil)
	l.ingest <- struct{}{}
	defer func() { <-l.ingest }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.IngestWait(ctx, &Pipeline{Classifier: &fakeClassifier{}}, []*File{testFile("a.png", 1)}); !errors.Is(err, context.Canceled) {
		t.Errorf("IngestWait() error = %v, want context.Canceled", err)
	}
}

func TestMergeDedup(t *testing.T) {
	l := NewLibrary(nil)
	if n := l.Merge([]*Image{
		newImage("1", "a.png", 100, []string{"#111111"}, []string{"x"}),
		newImage("2", "a.png", 100, []string{"#222222"}, []string{"y"}),
		newImage("3", "a.png", 101, nil, nil),
	}); n != 2 {
		t.Errorf("Merge() = %d, want 2", n)
	}

	// Same name and size in a later batch is a duplicate, even from another folder.
	dup := newImage("4", "a.png", 100, []string{"#444444"}, []string{"z"})
	dup.File.Path = "/elsewhere/a.png"
	if n := l.Merge([]*Image{dup}); n != 0 {
		t.Errorf("Merge() of duplicate = %d, want 0", n)
	}

	v := l.View()
	if diff := cmp.Diff([]string{"1", "3"}, ids(v.Images)); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"#111111"}, v.Colors); diff != "" {
		t.Errorf("colors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, v.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeReleasesDuplicateHandles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.png")
	writePNG(t, path, color.RGBA{A: 0xff}, 2, 2)

	d := NewDisplay(ThumbOpts{Y: 1})
	f := &File{Path: path, Name: "a.png", Size: 9}
	h1, err := d.Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2, err := d.Open(f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	l := NewLibrary(d)
	l.Merge([]*Image{{ID: "1", File: f, Handle: h1}, {ID: "2", File: f, Handle: h2}})
	if _, ok := d.Get(h2); ok {
		t.Error("duplicate handle still open")
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}

	l.ClearAll()
	if d.Len() != 0 {
		t.Errorf("Len() after ClearAll = %d, want 0", d.Len())
	}
}

func TestMergeFacetIdempotent(t *testing.T) {
	f := MergeFacet(nil, []string{"b", "a", "b"})
	if diff := cmp.Diff([]string{"a", "b"}, f); diff != "" {
		t.Errorf("MergeFacet mismatch (-want +got):\n%s", diff)
	}
	again := MergeFacet(f, []string{"b", "a"})
	if diff := cmp.Diff(f, again); diff != "" {
		t.Errorf("MergeFacet not idempotent (-want +got):\n%s", diff)
	}
	if got := MergeFacet([]string{}, nil); got == nil || len(got) != 0 {
		t.Errorf("MergeFacet of empties = %v", got)
	}
}

func TestSelectionExclusive(t *testing.T) {
	l := NewLibrary(nil)

	l.SelectColor("#FF0000")
	l.SelectTag("Warm")
	if v := l.View(); v.Color != "" || v.Tag != "Warm" {
		t.Errorf("after color then tag: color=%q tag=%q", v.Color, v.Tag)
	}

	l.SelectColor("#00FF00")
	if v := l.View(); v.Color != "#00FF00" || v.Tag != "" {
		t.Errorf("after tag then color: color=%q tag=%q", v.Color, v.Tag)
	}

	l.SelectColor("")
	if v := l.View(); v.Color != "" || v.Tag != "" {
		t.Errorf("after clearing: color=%q tag=%q", v.Color, v.Tag)
	}
}

func TestClearAll(t *testing.T) {
	l := NewLibrary(nil)
	l.Merge([]*Image{newImage("1", "a.png", 1, []string{"#000000"}, []string{"Dark"})})
	l.SelectTag("Dark")
	l.ClearAll()

	want := View{}
	if diff := cmp.Diff(want, l.View(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("View() after ClearAll mismatch (-want +got):\n%s", diff)
	}
}

func TestVisible(t *testing.T) {
	is := []*Image{
		newImage("1", "a.png", 1, []string{"#FF0000", "#00FF00"}, []string{"Warm"}),
		newImage("2", "b.png", 1, []string{"#00FF00"}, []string{"Cool"}),
		newImage("3", "c.png", 1, []string{"#0000FF"}, []string{"Cool", "Warm"}),
	}

	tests := []struct {
		color string
		tag   string
		want  []string
	}{
		{want: []string{"1", "2", "3"}},
		{color: "#00FF00", want: []string{"1", "2"}},
		{tag: "Warm", want: []string{"1", "3"}},
		{color: "#00FF00", tag: "Cool", want: []string{"2"}},
		{color: "#ABCDEF", want: []string{}},
	}
	for _, tc := range tests {
		got := ids(Visible(is, tc.color, tc.tag))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Visible(%q, %q) mismatch (-want +got):\n%s", tc.color, tc.tag, diff)
		}
	}
}

func TestUnseen(t *testing.T) {
	l := NewLibrary(nil)
	l.Merge([]*Image{newImage("1", "a.png", 1, nil, nil)})

	got := l.Unseen([]*File{testFile("a.png", 1), testFile("a.png", 2), testFile("b.png", 1), testFile("b.png", 1)})
	names := []string{}
	for _, f := range got {
		names = append(names, f.RelPath)
	}
	if len(got) != 2 || got[0].Size != 2 || got[1].Name != "b.png" {
		t.Errorf("Unseen() = %v", names)
	}
}

func TestImageLookup(t *testing.T) {
	l := NewLibrary(nil)
	l.Merge([]*Image{newImage("abc", "a.png", 1, nil, nil)})
	if _, ok := l.Image("abc"); !ok {
		t.Error("Image(abc) not found")
	}
	if _, ok := l.Image("zzz"); ok {
		t.Error("Image(zzz) found")
	}
}
