package camera

import (
	"fmt"
	"image"
	"time"
)

// PixelLayout describes how a frame's pixels are stored in memory.
type PixelLayout int

const (
	LayoutOther PixelLayout = iota
	LayoutRGBA
	LayoutNRGBA
	LayoutYCbCr
	LayoutGray
)

func (l PixelLayout) String() string {
	switch l {
	case LayoutRGBA:
		return "rgba"
	case LayoutNRGBA:
		return "nrgba"
	case LayoutYCbCr:
		return "ycbcr"
	case LayoutGray:
		return "gray"
	default:
		return "other"
	}
}

// LayoutOf reports the pixel layout of img.
func LayoutOf(img image.Image) PixelLayout {
	switch img.(type) {
	case *image.RGBA:
		return LayoutRGBA
	case *image.NRGBA:
		return LayoutNRGBA
	case *image.YCbCr:
		return LayoutYCbCr
	case *image.Gray:
		return LayoutGray
	default:
		return LayoutOther
	}
}

// Frame is one captured image plus the moment it was captured.
//
// Captured comes from time.Now and therefore carries the monotonic clock
// reading; delay decisions must use Captured.Sub / now.Sub, never wall
// clock arithmetic. A Frame is treated as immutable once produced.
type Frame struct {
	Seq      uint64
	Image    image.Image
	Width    int
	Height   int
	Layout   PixelLayout
	Captured time.Time
}

// NewFrame wraps img with its capture timestamp.
func NewFrame(seq uint64, img image.Image, captured time.Time) Frame {
	b := img.Bounds()
	return Frame{
		Seq:      seq,
		Image:    img,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Layout:   LayoutOf(img),
		Captured: captured,
	}
}

// Age returns how long ago the frame was captured relative to now.
func (f Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.Captured)
}

// IsZero reports whether f carries no image.
func (f Frame) IsZero() bool {
	return f.Image == nil
}

// Bytes estimates the memory held by the frame's pixel buffer.
func (f Frame) Bytes() int {
	switch img := f.Image.(type) {
	case *image.RGBA:
		return len(img.Pix)
	case *image.NRGBA:
		return len(img.Pix)
	case *image.Gray:
		return len(img.Pix)
	case *image.YCbCr:
		return len(img.Y) + len(img.Cb) + len(img.Cr)
	case nil:
		return 0
	default:
		return f.Width * f.Height * 4
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("frame#%d %dx%d %s", f.Seq, f.Width, f.Height, f.Layout)
}
