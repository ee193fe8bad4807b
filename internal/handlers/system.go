package handlers

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

// SystemInfo answers GET /api/v1/system/info with static host facts.
func SystemInfo() server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		hostname, _ := os.Hostname()
		kernel := kernelRelease()

		fs, err := procfs.NewDefaultFS()
		var memTotal, memAvail uint64
		if err == nil {
			if mi, err := fs.Meminfo(); err == nil {
				if mi.MemTotal != nil {
					memTotal = *mi.MemTotal * 1024
				}
				if mi.MemAvailable != nil {
					memAvail = *mi.MemAvailable * 1024
				}
			}
		}

		return map[string]interface{}{
			"hostname":         hostname,
			"os":               runtime.GOOS,
			"kernel":           kernel,
			"arch":             runtime.GOARCH,
			"cpu_count":        runtime.NumCPU(),
			"memory_total":     memTotal,
			"memory_available": memAvail,
		}, nil
	}
}

func kernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return cstring(uts.Release[:])
}

func cstring(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// SystemStatus answers GET /api/v1/system/status with a point-in-time
// load snapshot. CPU usage is sampled twice with a short interval to
// approximate an instantaneous percentage from the cumulative /proc/stat
// counters.
func SystemStatus() server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		fs, err := procfs.NewDefaultFS()
		if err != nil {
			return nil, server.NewHandlerError(5001, "procfs unavailable: %v", err)
		}

		cpuUsage, err := sampleCPUUsage(ctx, fs)
		if err != nil {
			cpuUsage = 0
		}

		memUsage := 0.0
		if mi, err := fs.Meminfo(); err == nil && mi.MemTotal != nil && *mi.MemTotal > 0 {
			free := uint64(0)
			if mi.MemAvailable != nil {
				free = *mi.MemAvailable
			}
			memUsage = 100 * (1 - float64(free)/float64(*mi.MemTotal))
		}

		load1, load5, load15 := 0.0, 0.0, 0.0
		if la, err := fs.LoadAvg(); err == nil {
			load1, load5, load15 = la.Load1, la.Load5, la.Load15
		}

		procCount := 0
		if procs, err := fs.AllProcs(); err == nil {
			procCount = len(procs)
		}

		return map[string]interface{}{
			"cpu_usage":     cpuUsage,
			"memory_usage":  memUsage,
			"disk_usage":    diskUsageByMount(),
			"load_average":  []float64{load1, load5, load15},
			"process_count": procCount,
		}, nil
	}
}

func sampleCPUUsage(ctx context.Context, fs procfs.FS) (float64, error) {
	first, err := fs.Stat()
	if err != nil {
		return 0, err
	}
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	second, err := fs.Stat()
	if err != nil {
		return 0, err
	}

	idle0, total0 := cpuTotals(first.CPUTotal)
	idle1, total1 := cpuTotals(second.CPUTotal)

	deltaTotal := total1 - total0
	if deltaTotal <= 0 {
		return 0, nil
	}
	deltaIdle := idle1 - idle0
	return 100 * (1 - deltaIdle/deltaTotal), nil
}

func cpuTotals(c procfs.CPUStat) (idle, total float64) {
	idle = c.Idle + c.Iowait
	total = c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	return idle, total
}

// diskUsageByMount reports free/used bytes per local mount point. procfs
// exposes NFS-specific mount stats but not generic free-space accounting,
// so this walks /proc/mounts (stdlib parsing, one line per mount) and
// calls statfs(2) on each local path via golang.org/x/sys/unix.
func diskUsageByMount() map[string]interface{} {
	out := map[string]interface{}{}
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return out
	}
	defer f.Close()

	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		fsType := fields[2]
		if seen[mountPoint] || isPseudoFS(fsType) {
			continue
		}
		seen[mountPoint] = true

		var st unix.Statfs_t
		if err := unix.Statfs(mountPoint, &st); err != nil {
			continue
		}
		blockSize := uint64(st.Bsize)
		total := st.Blocks * blockSize
		free := st.Bfree * blockSize
		out[mountPoint] = map[string]interface{}{
			"total_bytes": total,
			"free_bytes":  free,
			"used_bytes":  total - free,
		}
	}
	return out
}

func isPseudoFS(fsType string) bool {
	switch fsType {
	case "proc", "sysfs", "devtmpfs", "devpts", "tmpfs", "cgroup", "cgroup2",
		"pstore", "bpf", "tracefs", "debugfs", "mqueue", "securityfs", "autofs":
		return true
	default:
		return false
	}
}
