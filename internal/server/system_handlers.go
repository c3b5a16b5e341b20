package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mundocripto/papertrade/internal/database"
	"github.com/mundocripto/papertrade/internal/modules/trading"
	"github.com/mundocripto/papertrade/internal/reconciler"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	authDB    *database.DB
	ledgerDB  *database.DB
	cacheDB   *database.DB
	rec       *reconciler.Reconciler
	sessions  *trading.SessionManager
	startedAt time.Time
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	authDB *database.DB,
	ledgerDB *database.DB,
	cacheDB *database.DB,
	rec *reconciler.Reconciler,
	sessions *trading.SessionManager,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		dataDir:   dataDir,
		authDB:    authDB,
		ledgerDB:  ledgerDB,
		cacheDB:   cacheDB,
		rec:       rec,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()

	pendingCount, err := h.rec.PendingCount()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read pending queue depth")
		pendingCount = -1
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
			"cpu_percent":    cpuPct,
			"memory_percent": memPct,
			"sessions":       h.sessions.Count(),
			"pending_syncs":  pendingCount,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	databases := map[string]*database.DB{
		"auth":   h.authDB,
		"ledger": h.ledgerDB,
		"cache":  h.cacheDB,
	}

	stats := make(map[string]interface{}, len(databases))
	for name, db := range databases {
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			stats[name] = map[string]interface{}{"error": err.Error()}
			continue
		}
		stats[name] = map[string]interface{}{
			"size_bytes":     s.SizeBytes,
			"wal_size_bytes": s.WALSizeBytes,
			"page_count":     s.PageCount,
			"page_size":      s.PageSize,
			"freelist_count": s.FreelistCount,
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Error().Err(err).Str("path", h.dataDir).Msg("Failed to get disk usage")
		http.Error(w, "Failed to get disk usage", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"path":         h.dataDir,
			"total_bytes":  usage.Total,
			"used_bytes":   usage.Used,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
			"inodes_used":  usage.InodesUsed,
			"inodes_total": usage.InodesTotal,
			"fs_type":      usage.Fstype,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a 100ms CPU sampling window to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
