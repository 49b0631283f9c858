// Package render turns a delayed camera frame into something a display
// target can show: color conversion, optional mirror flip, then an
// aspect-preserving scale to the target size.
package render

import (
	"fmt"
	"image"
	"image/color"

	"delayed-mirror/internal/camera"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Target names a display surface.
type Target int

const (
	Preview Target = iota
	Fullscreen
)

func (t Target) String() string {
	switch t {
	case Preview:
		return "preview"
	case Fullscreen:
		return "fullscreen"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// Options selects which steps run. Steps always run in the order
// convert, flip, scale, overlay.
type Options struct {
	ConvertColor bool   // convert any pixel layout to RGBA
	Flip         bool   // mirror horizontally
	Target       Size   // scale to fit inside; zero leaves the size alone
	Overlay      string // text drawn in the top-left corner, if any
	Quality      Quality
}

// Quality picks the scaler.
type Quality int

const (
	QualityFast     Quality = iota // nearest neighbor
	QualityBalanced                // approximate bilinear
	QualityHigh                    // Catmull-Rom
)

// ParseQuality accepts "fast", "balanced" or "high".
func ParseQuality(s string) (Quality, bool) {
	switch s {
	case "fast":
		return QualityFast, true
	case "balanced", "":
		return QualityBalanced, true
	case "high":
		return QualityHigh, true
	}
	return QualityBalanced, false
}

func (q Quality) scaler() draw.Scaler {
	switch q {
	case QualityFast:
		return draw.NearestNeighbor
	case QualityHigh:
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

// Frame is a rendered image ready for a display target.
type Frame struct {
	Source camera.Frame // the captured frame this came from
	Image  image.Image
	Size   Size
}

// Render applies opts to f and returns a new image; f is never modified.
func Render(f camera.Frame, opts Options) Frame {
	if f.IsZero() {
		return Frame{Source: f}
	}
	img := f.Image

	if opts.ConvertColor {
		img = toRGBA(img)
	}
	if opts.Flip {
		img = flipHorizontal(img)
	}
	if !opts.Target.Empty() {
		b := img.Bounds()
		fit := Fit(b.Dx(), b.Dy(), opts.Target.W, opts.Target.H)
		if !fit.Empty() && (fit.W != b.Dx() || fit.H != b.Dy()) {
			dst := image.NewRGBA(image.Rect(0, 0, fit.W, fit.H))
			opts.Quality.scaler().Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
			img = dst
		}
	}
	if opts.Overlay != "" {
		img = drawOverlay(img, opts.Overlay)
	}

	b := img.Bounds()
	return Frame{Source: f, Image: img, Size: Size{W: b.Dx(), H: b.Dy()}}
}

// Fit scales (w, h) by min(W/w, H/h) so the result fits inside (W, H)
// with the aspect ratio kept. Dimensions never round below 1.
func Fit(w, h, W, H int) Size {
	if w <= 0 || h <= 0 || W <= 0 || H <= 0 {
		return Size{}
	}
	sx := float64(W) / float64(w)
	sy := float64(H) / float64(h)
	scale := sx
	if sy < sx {
		scale = sy
	}
	out := Size{W: int(float64(w) * scale), H: int(float64(h) * scale)}
	if out.W < 1 {
		out.W = 1
	}
	if out.H < 1 {
		out.H = 1
	}
	if out.W > W {
		out.W = W
	}
	if out.H > H {
		out.H = H
	}
	return out
}

// Scaled returns size multiplied by factor, used for the preview which
// takes a fraction of the window.
func Scaled(s Size, factor float64) Size {
	return Size{W: int(float64(s.W) * factor), H: int(float64(s.H) * factor)}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func flipHorizontal(img image.Image) *image.RGBA {
	src := toRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w*4]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			copy(drow[(w-1-x)*4:(w-x)*4], srow[x*4:(x+1)*4])
		}
	}
	return dst
}

var overlayColor = color.RGBA{R: 255, G: 255, A: 255}

func drawOverlay(img image.Image, text string) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(overlayColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 18),
	}
	d.DrawString(text)
	return dst
}
