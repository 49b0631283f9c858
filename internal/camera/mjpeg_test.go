package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func TestMJPEGReader_SplitsConcatenatedStream(t *testing.T) {
	a := encodeJPEG(t, 16, 8, color.RGBA{255, 0, 0, 255})
	b := encodeJPEG(t, 32, 24, color.RGBA{0, 0, 255, 255})

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x12}) // junk before the first SOI
	stream.Write(a)
	stream.Write(b)

	// One byte per Read exercises markers split across reads.
	r := newMJPEGReader(iotest.OneByteReader(&stream))

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, a, first)

	img, err := r.NextImage()
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGReader_CorruptFrameIsSkipped(t *testing.T) {
	corrupt := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	good := encodeJPEG(t, 8, 8, color.White)

	r := newMJPEGReader(bytes.NewReader(append(corrupt, good...)))

	img, err := r.NextImage()
	require.NoError(t, err)
	assert.Nil(t, img)

	img, err = r.NextImage()
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestIndexMarker(t *testing.T) {
	b := []byte{0x00, 0xFF, 0xD8, 0xFF, 0xD9}
	assert.Equal(t, 1, indexMarker(b, 0xD8, 0))
	assert.Equal(t, 3, indexMarker(b, 0xD9, 0))
	assert.Equal(t, -1, indexMarker(b, 0xD8, 2))
	assert.Equal(t, -1, indexMarker(nil, 0xD8, 0))
}
