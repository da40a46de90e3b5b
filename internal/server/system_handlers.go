package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var startedAt = time.Now()

// handleSystemHealth reports process, host, and database health in one view.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]interface{}{
		"status":     "ok",
		"uptime_sec": int64(time.Since(startedAt).Seconds()),
		"goroutines": runtime.NumGoroutine(),
	}

	dbStatus := map[string]string{}
	if err := s.cfg.CoreDB.HealthCheck(ctx); err != nil {
		dbStatus[s.cfg.CoreDB.Name()] = err.Error()
		health["status"] = "degraded"
	} else {
		dbStatus[s.cfg.CoreDB.Name()] = "ok"
	}
	if err := s.cfg.HistoryDB.HealthCheck(ctx); err != nil {
		dbStatus[s.cfg.HistoryDB.Name()] = err.Error()
		health["status"] = "degraded"
	} else {
		dbStatus[s.cfg.HistoryDB.Name()] = "ok"
	}
	health["databases"] = dbStatus

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		health["memory_percent"] = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		health["disk_percent"] = du.UsedPercent
	}

	health["event_subscribers"] = s.cfg.Events.SubscriberCount()

	s.respondJSON(w, http.StatusOK, health)
}
