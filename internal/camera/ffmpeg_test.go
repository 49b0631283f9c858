package camera

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a stand-in ffmpeg that records each launch, emits one
// JPEG and then idles until killed. It returns the binary and launch log.
func fakeFFmpeg(t *testing.T) (binary, launches string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	frame := filepath.Join(dir, "frame.jpg")
	require.NoError(t, os.WriteFile(frame, encodeJPEG(t, 32, 24, color.RGBA{0, 128, 0, 255}), 0o644))

	launches = filepath.Join(dir, "launches")
	binary = filepath.Join(dir, "ffmpeg")
	script := fmt.Sprintf("#!/bin/sh\necho launch >> %q\ncat %q\nexec sleep 30\n", launches, frame)
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, launches
}

func launchCount(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "launch")
}

func TestFFmpegSession_ConfigureSameFormatKeepsProcess(t *testing.T) {
	binary, launches := fakeFFmpeg(t)
	devDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "video0"), nil, 0o644))

	request := Format{Width: 32, Height: 24, FPS: 30}
	src := NewFFmpegSource(request)
	src.Binary = binary
	src.DevDir = devDir
	src.OpenTimeout = 3 * time.Second

	ctx := context.Background()
	sess, err := src.Open(ctx, 0)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 1, launchCount(t, launches))

	got, err := sess.Configure(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, request, got)
	assert.Equal(t, 1, launchCount(t, launches), "same format must not restart ffmpeg")

	f, err := sess.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width)

	_, err = sess.Configure(ctx, Format{Width: 16, Height: 12, FPS: 15})
	require.NoError(t, err)
	assert.Equal(t, 2, launchCount(t, launches))
}
