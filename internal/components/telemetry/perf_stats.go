package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

const report_perf_stats = "perf-stats"

// InstrumentPerfStats periodically reports process statistics as counts
// until ctx is cancelled.
func InstrumentPerfStats(ctx context.Context, tel API, interval time.Duration) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.PercentWithContext(ctx, time.Second, false)
				if err == nil && len(cpuUsage) > 0 {
					tel.ReportCount("perf-stats.cpu-percent", int64(cpuUsage[0]))
				} else if err != nil {
					tel.ReportWarning(report_perf_stats, err)
				}

				tel.ReportCount("perf-stats.allocated-mb", int64(memStats.Alloc/1_000_000))
				tel.ReportCount("perf-stats.live-objects", int64(memStats.Mallocs)-int64(memStats.Frees))
				tel.ReportCount("perf-stats.goroutines", int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
