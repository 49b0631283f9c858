package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// maxMJPEGFrameBytes bounds a single JPEG; 1080p MJPEG frames are well
// under 1 MB, so anything past this means we lost sync with the stream.
const maxMJPEGFrameBytes = 8 << 20

var errMJPEGResync = fmt.Errorf("camera: mjpeg frame too large, resyncing")

// mjpegReader splits a concatenated MJPEG byte stream (ffmpeg image2pipe
// output) into individual JPEG images by scanning for SOI/EOI markers.
type mjpegReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	readErr error
}

func newMJPEGReader(r io.Reader) *mjpegReader {
	return &mjpegReader{
		r:       r,
		buf:     make([]byte, 32*1024),
		pending: make([]byte, 0, 256*1024),
	}
}

// Next returns the raw bytes of the next complete JPEG.
// The returned slice is owned by the caller.
func (m *mjpegReader) Next() ([]byte, error) {
	searchFrom := 2
	for {
		if start := indexMarker(m.pending, 0xD8, 0); start >= 0 {
			if start > 0 {
				m.pending = append(m.pending[:0], m.pending[start:]...)
				searchFrom = 2
			}
			if end := indexMarker(m.pending, 0xD9, searchFrom); end >= 0 {
				frame := make([]byte, end+2)
				copy(frame, m.pending[:end+2])
				m.pending = append(m.pending[:0], m.pending[end+2:]...)
				return frame, nil
			}
			if len(m.pending) > 2 {
				searchFrom = len(m.pending) - 1
			}
		} else if n := len(m.pending); n > 1 {
			// Keep the last byte; it may be the 0xFF of a split marker.
			m.pending = append(m.pending[:0], m.pending[n-1])
		}

		if len(m.pending) > maxMJPEGFrameBytes {
			m.pending = m.pending[:0]
			return nil, errMJPEGResync
		}
		if m.readErr != nil {
			return nil, m.readErr
		}

		n, err := m.r.Read(m.buf)
		m.pending = append(m.pending, m.buf[:n]...)
		m.readErr = err
	}
}

// NextImage returns the next decodable frame. Corrupt JPEGs yield a nil
// image and nil error so the stream keeps flowing.
func (m *mjpegReader) NextImage() (image.Image, error) {
	data, err := m.Next()
	if err == errMJPEGResync {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	return img, nil
}

// indexMarker finds 0xFF followed by marker at or after from.
func indexMarker(b []byte, marker byte, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+1 < len(b); i++ {
		if b[i] == 0xFF && b[i+1] == marker {
			return i
		}
	}
	return -1
}
