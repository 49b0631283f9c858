//go:build !gocv

package camera

import "time"

func gocvAvailable() bool { return false }

func newGocvBackend(Format, time.Duration) Source { return nil }
