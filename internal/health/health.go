// Package health periodically samples process memory and cgroup limits and
// exposes a /healthz endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"chatrelay/internal/channel"
	"chatrelay/internal/metrics"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

// Monitor periodically samples process/resource state into the metrics
// package and answers /healthz with a snapshot.
type Monitor struct {
	logger   zerolog.Logger
	clients  *session.Registry
	channels *channel.Registry
	pool     *workerpool.Pool

	memLimitBytes int64
	memUsedBytes  atomic.Int64
}

// New builds a Monitor. It looks up the cgroup memory limit once at
// startup; the limit does not change over the process lifetime.
func New(logger zerolog.Logger, clients *session.Registry, channels *channel.Registry, pool *workerpool.Pool) *Monitor {
	limit, err := memoryLimit()
	if err != nil {
		logger.Debug().Err(err).Msg("no cgroup memory limit detected")
	}
	m := &Monitor{logger: logger, clients: clients, channels: channels, pool: pool, memLimitBytes: limit}
	if limit > 0 {
		metrics.MemoryLimitBytes.Set(float64(limit))
	}
	return m
}

// Run samples every interval until stop is closed. It is meant
// to be run as its own goroutine for the life of the process.
func (m *Monitor) Run(stop <-chan struct{}, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to open self process handle, memory sampling disabled")
		proc = nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sample(proc)
		}
	}
}

func (m *Monitor) sample(proc *process.Process) {
	if proc != nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			m.memUsedBytes.Store(int64(memInfo.RSS))
			metrics.MemoryUsageBytes.Set(float64(memInfo.RSS))
		}
	}

	metrics.ConnectionsActive.Set(float64(m.clients.Len()))
	metrics.ChannelsActive.Set(float64(m.channels.Len()))
	metrics.WorkerQueueDepth.Set(float64(m.pool.QueueDepth()))
	metrics.WorkerQueueCapacity.Set(float64(m.pool.QueueCapacity()))

	if m.memLimitBytes > 0 {
		usedMB := float64(m.memUsedBytes.Load()) / 1024 / 1024
		limitMB := float64(m.memLimitBytes) / 1024 / 1024
		percent := usedMB / limitMB * 100
		if percent > 90 {
			m.logger.Warn().Float64("memory_percent", percent).Msg("memory usage above 90%, OOM risk")
		} else if percent > 80 {
			m.logger.Info().Float64("memory_percent", percent).Msg("memory usage above 80%")
		}
	}
}

type snapshot struct {
	Status          string `json:"status"`
	Connections     int    `json:"connections"`
	Channels        int    `json:"channels"`
	MemoryUsedBytes int64  `json:"memory_used_bytes"`
	MemoryLimit     int64  `json:"memory_limit_bytes,omitempty"`
	WorkerQueued    int    `json:"worker_queue_depth"`
	WorkerDropped   int64  `json:"worker_dropped_total"`
}

// Handler answers GET /healthz with a small JSON status snapshot.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := snapshot{
			Status:          "ok",
			Connections:     m.clients.Len(),
			Channels:        m.channels.Len(),
			MemoryUsedBytes: m.memUsedBytes.Load(),
			MemoryLimit:     m.memLimitBytes,
			WorkerQueued:    m.pool.QueueDepth(),
			WorkerDropped:   m.pool.Dropped(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
}

// memoryLimit reads the container memory limit from the cgroup filesystem,
// trying cgroup v2 first and falling back to v1. It returns 0 with a nil
// error when no limit is detected (bare metal, VMs, unconstrained
// containers).
func memoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
		return 0, nil
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		limit, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil {
			return 0, err
		}
		// cgroup v1 reports an unconstrained group as a value near MaxInt64.
		if limit >= 1<<62 {
			return 0, nil
		}
		return limit, nil
	}

	return 0, nil
}
