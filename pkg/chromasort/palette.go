package chromasort

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strings"

	// Register decoders for every recognized extension.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/anthonynsimon/bild/transform"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// PaletteSize is the number of dominant colors reported by the local classifier.
var PaletteSize = 5

// sampleWidth is the width images are reduced to before clustering.
var sampleWidth = 96

// Palette classifies images locally by clustering their pixels. It needs no credentials.
type Palette struct {
	K int
}

// NewPalette returns a local classifier reporting PaletteSize colors.
func NewPalette() *Palette {
	return &Palette{K: PaletteSize}
}

// Classify returns the dominant colors of an image and tags derived from them.
func (p *Palette) Classify(ctx context.Context, f *File) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	bs, _, err := f.Read()
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: fmt.Errorf("decode: %w", err)}
	}

	cs, err := dominant(img, p.K)
	if err != nil {
		return nil, &ClassificationError{Name: f.Name, Err: err}
	}

	a := &Analysis{Colors: []string{}, Tags: paletteTags(cs)}
	for _, c := range cs {
		a.Colors = append(a.Colors, strings.ToUpper(c.Clamped().Hex()))
	}
	return a, nil
}

type weighted struct {
	c colorful.Color
	n int
}

// dominant returns up to k colors ordered by how many pixels they represent.
func dominant(img image.Image, k int) ([]colorful.Color, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image: %v", b)
	}

	if b.Dx() > sampleWidth {
		h := b.Dy() * sampleWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		img = transform.Resize(img, sampleWidth, h, transform.NearestNeighbor)
		b = img.Bounds()
	}

	counts := map[color.RGBA]int{}
	var obs clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c, _ := colorful.MakeColor(opaque(img.At(x, y)))
			r, g, bl := c.RGB255()
			counts[color.RGBA{R: r, G: g, B: bl, A: 0xff}]++
			obs = append(obs, clusters.Coordinates{c.R, c.G, c.B})
		}
	}

	var ws []weighted
	if len(counts) <= k {
		for rgba, n := range counts {
			c, _ := colorful.MakeColor(rgba)
			ws = append(ws, weighted{c: c, n: n})
		}
	} else {
		cs, err := kmeans.New().Partition(obs, k)
		if err != nil {
			return nil, fmt.Errorf("partition: %w", err)
		}
		for _, cl := range cs {
			if len(cl.Observations) == 0 {
				continue
			}
			ws = append(ws, weighted{
				c: colorful.Color{R: cl.Center[0], G: cl.Center[1], B: cl.Center[2]},
				n: len(cl.Observations),
			})
		}
	}

	sort.Slice(ws, func(i, j int) bool {
		if ws[i].n != ws[j].n {
			return ws[i].n > ws[j].n
		}
		return ws[i].c.Hex() < ws[j].c.Hex()
	})

	out := []colorful.Color{}
	for _, w := range ws {
		out = append(out, w.c)
	}
	return out, nil
}

// opaque drops the alpha channel so that transparent pixels do not skew toward black.
func opaque(c color.Color) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = 0xff
	return n
}

// paletteTags describes a palette with at most four labels.
func paletteTags(cs []colorful.Color) []string {
	tags := []string{}
	if len(cs) == 0 {
		return tags
	}

	var sat, light float64
	warm, cool, earthy := 0, 0, 0
	for _, c := range cs {
		h, s, l := c.Hsl()
		sat += s
		light += l
		if s < 0.15 {
			continue
		}
		switch {
		case h < 70 || h >= 300:
			warm++
			if s < 0.5 && l < 0.5 {
				earthy++
			}
		case h >= 170 && h < 300:
			cool++
		}
	}
	sat /= float64(len(cs))
	light /= float64(len(cs))

	switch {
	case sat < 0.15:
		tags = append(tags, "Monochromatic")
	case warm > cool:
		tags = append(tags, "Warm Tones")
	case cool > warm:
		tags = append(tags, "Cool Blues")
	}
	if earthy > 0 && earthy*2 >= warm {
		tags = append(tags, "Earthy")
	}

	switch {
	case sat > 0.6:
		tags = append(tags, "Vibrant")
	case sat >= 0.15 && sat < 0.35:
		tags = append(tags, "Muted")
	}

	switch {
	case light < 0.3:
		tags = append(tags, "Dark")
	case light > 0.7:
		tags = append(tags, "Bright")
	}

	if len(tags) > 4 {
		tags = tags[:4]
	}
	return tags
}
