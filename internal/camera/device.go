package camera

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Device is one capture device the user can pick from.
type Device struct {
	Index int    // N in /dev/videoN; what Source.Open expects
	Name  string // human readable, e.g. "HD Pro Webcam C920"
	Path  string // device node path
}

func (d Device) String() string {
	return fmt.Sprintf("%d: %s", d.Index, d.Name)
}

// Enumerator lists the capture devices currently present.
type Enumerator interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// SysfsEnumerator discovers V4L2 devices by scanning DevDir for videoN
// nodes and reading their names from SysDir.
type SysfsEnumerator struct {
	DevDir string // usually /dev
	SysDir string // usually /sys/class/video4linux

	// accept decides whether a videoN entry is a real device node.
	accept func(fs.FileInfo) bool
}

// NewSysfsEnumerator returns an enumerator for the standard Linux paths.
func NewSysfsEnumerator() *SysfsEnumerator {
	return &SysfsEnumerator{
		DevDir: "/dev",
		SysDir: "/sys/class/video4linux",
		accept: isCharDevice,
	}
}

func isCharDevice(info fs.FileInfo) bool {
	return info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice != 0
}

// ListDevices returns the capture devices ordered by index.
//
// Metadata nodes (a second /dev/videoN many UVC cameras expose) are skipped
// by checking the sysfs "index" attribute: only index 0 is a capture node.
func (e *SysfsEnumerator) ListDevices(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(e.DevDir)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrEnumeration, e.DevDir, err)
	}

	accept := e.accept
	if accept == nil {
		accept = isCharDevice
	}

	var devices []Device
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index, ok := ParseDeviceName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !accept(info) {
			continue
		}
		if !e.isCaptureNode(entry.Name()) {
			continue
		}

		devices = append(devices, Device{
			Index: index,
			Name:  e.deviceName(entry.Name()),
			Path:  filepath.Join(e.DevDir, entry.Name()),
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

func (e *SysfsEnumerator) isCaptureNode(node string) bool {
	data, err := os.ReadFile(filepath.Join(e.SysDir, node, "index"))
	if err != nil {
		// No sysfs info: assume it can capture.
		return true
	}
	return strings.TrimSpace(string(data)) == "0"
}

func (e *SysfsEnumerator) deviceName(node string) string {
	data, err := os.ReadFile(filepath.Join(e.SysDir, node, "name"))
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Camera %s", node)
}

// ParseDeviceName extracts N from "videoN".
func ParseDeviceName(name string) (int, bool) {
	if !strings.HasPrefix(name, "video") {
		return 0, false
	}
	n, err := strconv.Atoi(name[len("video"):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SafeList lists devices but never fails: enumeration errors are logged
// and reported as an empty list so the selector can still be shown.
func SafeList(ctx context.Context, enum Enumerator) []Device {
	devices, err := enum.ListDevices(ctx)
	if err != nil {
		log.Printf("[Devices] WARNING: %v (showing no devices)", err)
		return nil
	}
	return devices
}

// Contains reports whether index is among devices.
func Contains(devices []Device, index int) bool {
	for _, d := range devices {
		if d.Index == index {
			return true
		}
	}
	return false
}
