// Package cursor loads pointer images from XCursor themes and fits
// them to the fixed size of hardware cursor planes.
package cursor

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"deedles.dev/ximage"
	"deedles.dev/ximage/xcursor"
	xdraw "golang.org/x/image/draw"
)

// ErrNotFound is returned by Load when the theme has none of the
// requested cursors.
var ErrNotFound = errors.New("cursor: not found in theme")

// DefaultNames are the names tried by Load when none are given, in
// order.
var DefaultNames = []string{"left_ptr", "default", "arrow"}

// Image is a pointer image and its hotspot.
type Image struct {
	Image   image.Image
	Hotspot image.Point
}

// Load loads the first of names that theme provides, picking the
// image size closest to size. An empty theme loads the default theme.
func Load(theme string, size int, names ...string) (*Image, error) {
	if len(names) == 0 {
		names = DefaultNames
	}

	t, err := xcursor.LoadTheme(theme)
	if err != nil {
		return nil, fmt.Errorf("load theme %q: %w", theme, err)
	}

	for _, name := range names {
		c, ok := t.Cursors[name]
		if !ok {
			continue
		}

		frames := c.Images[c.BestSize(size)]
		if len(frames) == 0 {
			continue
		}
		return &Image{
			Image:   frames[0].Image,
			Hotspot: frames[0].Hot,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNotFound, names)
}

// Fit returns a copy of img of exactly the given size, as required by
// cursor planes. Images that are too large are scaled down, keeping
// their aspect ratio, and the hotspot is scaled with them. Smaller
// images are anchored at the top-left corner.
func (img *Image) Fit(size image.Point) *Image {
	dst := &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rectangle{Max: size},
		Pix:    make([]byte, 4*size.X*size.Y),
	}

	src := img.Image.Bounds()
	hot := img.Hotspot.Sub(src.Min)
	if (src.Dx() <= size.X) && (src.Dy() <= size.Y) {
		draw.Draw(dst, src.Sub(src.Min), img.Image, src.Min, draw.Src)
		return &Image{Image: dst, Hotspot: hot}
	}

	num, den := size.X, src.Dx()
	if size.Y*src.Dx() < size.X*src.Dy() {
		num, den = size.Y, src.Dy()
	}
	scaled := image.Rect(0, 0, src.Dx()*num/den, src.Dy()*num/den)
	xdraw.CatmullRom.Scale(dst, scaled, img.Image, src, xdraw.Src, nil)

	return &Image{
		Image:   dst,
		Hotspot: image.Pt(hot.X*num/den, hot.Y*num/den),
	}
}
