// Package memlimit derives a GOMEMLIMIT for the server from the container or
// host memory limit.
package memlimit

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Auto asks Resolve to detect the limit from the environment.
const Auto int64 = -1

// headroom is the share of the detected limit left for non-heap memory.
const headroom = 0.1

var (
	cgroupV2MemMax   = "/sys/fs/cgroup/memory.max"
	cgroupV1MemLimit = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
	procMountPoint   = procfs.DefaultMountPoint
)

// Detect returns the memory available to the process in bytes: the cgroup v2
// limit, else the cgroup v1 limit, else MemTotal. It returns 0 when nothing
// can be read or the limit is unbounded.
func Detect() int64 {
	if limit := readLimitFile(cgroupV2MemMax); limit > 0 {
		return limit
	}
	if limit := readLimitFile(cgroupV1MemLimit); limit > 0 {
		return limit
	}
	return memTotal()
}

func readLimitFile(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	limit, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	// "max" fails to parse; cgroup v1 reports unlimited as a value near 2^63.
	if err != nil || limit > 1<<60 {
		return 0
	}
	return limit
}

func memTotal() int64 {
	fs, err := procfs.NewFS(procMountPoint)
	if err != nil {
		return 0
	}

	info, err := fs.Meminfo()
	if err != nil || info.MemTotal == nil {
		return 0
	}
	return int64(*info.MemTotal) * 1024
}

// Resolve turns a configured limit into the heap limit to apply. Auto detects
// the available memory; 0 disables the limit.
func Resolve(configured int64) int64 {
	total := configured
	if configured == Auto {
		total = Detect()
	}
	if total <= 0 {
		return 0
	}
	return int64(float64(total) * (1 - headroom))
}

// Apply sets GOMEMLIMIT when limit is positive and returns the previous value.
func Apply(limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return debug.SetMemoryLimit(limit)
}

var units = []struct {
	suffix     string
	multiplier int64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"TI", 1 << 40}, {"GI", 1 << 30}, {"MI", 1 << 20}, {"KI", 1 << 10},
	{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
	{"T", 1 << 40}, {"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
	{"B", 1},
}

// Parse reads a limit such as "512MiB", "2G" or "1500000000". "auto" maps to
// Auto and "off" to 0. Fractions are rejected.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return 0, fmt.Errorf("empty memory limit")
	case "auto":
		return Auto, nil
	case "off":
		return 0, nil
	}

	number, multiplier := strings.ToUpper(s), int64(1)
	for _, unit := range units {
		if trimmed, ok := strings.CutSuffix(number, unit.suffix); ok {
			number, multiplier = strings.TrimSpace(trimmed), unit.multiplier
			break
		}
	}

	n, err := strconv.ParseUint(number, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q", s)
	}
	if multiplier > 1 && n > uint64((1<<63-1)/multiplier) {
		return 0, fmt.Errorf("memory limit %q overflows", s)
	}
	return int64(n) * multiplier, nil
}

// FormatBytes formats bytes using IEC units, for logs.
func FormatBytes(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.2fGiB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.2fMiB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.2fKiB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
