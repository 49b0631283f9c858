// Package helpers frees capture devices left open by other processes.
package helpers

import (
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// A stale ffmpeg from a previous run (or another viewer) holding
// /dev/videoN makes the next open fail with "device busy".
//
// Holders are found by walking /proc/<pid>/fd; lsof is the fallback when
// /proc is not readable. Our own PID is never touched. Survivors of
// SIGTERM get SIGKILL after a grace period.

// KillDeviceHolders terminates processes holding devicePath and reports
// whether any were signalled. It is a no-op when enabled is false.
func KillDeviceHolders(devicePath string, enabled bool) bool {
	if !enabled {
		return false
	}
	return killHolders(devicePath, FindHolders("/proc", devicePath), 400*time.Millisecond)
}

// FindHolders lists the PIDs (other than ours) with devicePath open.
func FindHolders(procDir, devicePath string) []int {
	pids, err := holdersFromProc(procDir, devicePath)
	if err != nil || len(pids) == 0 {
		pids = holdersFromLsof(devicePath)
	}

	self := os.Getpid()
	out := pids[:0]
	for _, pid := range pids {
		if pid != self {
			out = append(out, pid)
		}
	}
	return out
}

func holdersFromProc(procDir, devicePath string) ([]int, error) {
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return nil, err
	}

	want := filepath.Clean(devicePath)
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		fdDir := filepath.Join(procDir, entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // gone, or not ours to inspect
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && filepath.Clean(target) == want {
				pids = append(pids, pid)
				break
			}
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func holdersFromLsof(devicePath string) []int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "lsof", "-t", devicePath).Output()
	if err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(line); err == nil && pid > 0 && !seen[pid] {
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids
}

func killHolders(devicePath string, pids []int, grace time.Duration) bool {
	if len(pids) == 0 {
		return false
	}
	log.Printf("[Holders] Terminating holders of %s: %v", devicePath, pids)

	signalled := false
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			if errors.Is(err, syscall.EPERM) {
				log.Printf("[Holders] WARNING: not permitted to signal pid %d holding %s", pid, devicePath)
			}
			continue
		}
		signalled = true
	}
	if !signalled {
		return false
	}

	time.Sleep(grace)

	for _, pid := range pids {
		if syscall.Kill(pid, 0) != nil {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			log.Printf("[Holders] Failed to SIGKILL pid %d: %v", pid, err)
		}
	}
	return true
}
