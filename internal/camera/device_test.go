package camera

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVideoTree lays out a fake /dev and /sys/class/video4linux.
func fakeVideoTree(t *testing.T, nodes map[string]struct{ name, index string }) *SysfsEnumerator {
	t.Helper()
	devDir := t.TempDir()
	sysDir := t.TempDir()

	for node, meta := range nodes {
		require.NoError(t, os.WriteFile(filepath.Join(devDir, node), nil, 0o644))
		if meta.name == "" && meta.index == "" {
			continue
		}
		dir := filepath.Join(sysDir, node)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		if meta.name != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(meta.name+"\n"), 0o644))
		}
		if meta.index != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), []byte(meta.index+"\n"), 0o644))
		}
	}

	return &SysfsEnumerator{
		DevDir: devDir,
		SysDir: sysDir,
		accept: func(fs.FileInfo) bool { return true },
	}
}

func TestSysfsEnumerator_ListsCaptureNodesInOrder(t *testing.T) {
	enum := fakeVideoTree(t, map[string]struct{ name, index string }{
		"video2":  {"USB Camera", "0"},
		"video0":  {"Integrated Webcam", "0"},
		"video1":  {"Integrated Webcam", "1"}, // metadata node
		"video10": {},
		"vcs1":    {},
	})

	devices, err := enum.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, 0, devices[0].Index)
	assert.Equal(t, "Integrated Webcam", devices[0].Name)
	assert.Equal(t, 2, devices[1].Index)
	assert.Equal(t, "USB Camera", devices[1].Name)
	assert.Equal(t, 10, devices[2].Index)
	assert.Equal(t, "Camera video10", devices[2].Name)
	assert.Equal(t, filepath.Join(enum.DevDir, "video2"), devices[1].Path)
}

func TestSysfsEnumerator_SkipsNonDevices(t *testing.T) {
	enum := fakeVideoTree(t, map[string]struct{ name, index string }{
		"video0": {"Cam", "0"},
	})
	enum.accept = isCharDevice // regular files are not device nodes

	devices, err := enum.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestSysfsEnumerator_MissingDevDir(t *testing.T) {
	enum := &SysfsEnumerator{DevDir: filepath.Join(t.TempDir(), "nope")}

	_, err := enum.ListDevices(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEnumeration))

	assert.Empty(t, SafeList(context.Background(), enum))
}

func TestParseDeviceName(t *testing.T) {
	tests := []struct {
		in    string
		index int
		ok    bool
	}{
		{"video0", 0, true},
		{"video12", 12, true},
		{"video", 0, false},
		{"videoX", 0, false},
		{"video-1", 0, false},
		{"media0", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			index, ok := ParseDeviceName(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.index, index)
			}
		})
	}
}

func TestContains(t *testing.T) {
	devices := []Device{{Index: 0}, {Index: 3}}
	assert.True(t, Contains(devices, 3))
	assert.False(t, Contains(devices, 1))
	assert.False(t, Contains(nil, 0))
}

func TestPatternSource_ListDevices(t *testing.T) {
	src := NewPatternSource(3, Format{})
	devices, err := src.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, 2, devices[2].Index)
}
