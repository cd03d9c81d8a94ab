package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats is a point-in-time view of the relay's shared state.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Online      int `json:"online"`
}

type StatsProvider func() Stats

// TelemetryWorker periodically logs the relay state next to the process CPU and memory usage.
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	stats          StatsProvider
}

func NewTelemetryWorker(log *slog.Logger, metricInterval time.Duration, stats StatsProvider) *TelemetryWorker {
	return &TelemetryWorker{log: log, metricInterval: metricInterval, stats: stats}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			w.report(p)
		}
	}
}

func (w *TelemetryWorker) report(p *process.Process) {
	stats := w.stats()
	attrs := []any{
		"connections", stats.Connections,
		"users", stats.Users,
		"online", stats.Online,
	}
	if cpu, err := p.CPUPercent(); err == nil {
		attrs = append(attrs, "cpu_percent", cpu)
	}
	if mem, err := p.MemoryInfo(); err == nil {
		attrs = append(attrs, "rss_mb", mem.RSS/1024/1024)
	}
	w.log.Info("Relay health", attrs...)
}
