package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/previewhq/preview-core/preview"
)

// SystemHandler reports host load so operators can tell when the box is
// too busy to take more previews.
type SystemHandler struct {
	svc *preview.Service
}

// NewSystemHandler creates the handler.
func NewSystemHandler(svc *preview.Service) *SystemHandler {
	return &SystemHandler{svc: svc}
}

// Stats handles GET /api/system.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"sessions":      h.svc.Store.Len(),
		"portsReserved": h.svc.Allocator.ReservedCount(),
	}

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		resp["cpuPercent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memPercent"] = vm.UsedPercent
		resp["memTotalMB"] = vm.Total / (1 << 20)
	}

	writeJSON(w, http.StatusOK, resp)
}
