package handler

import (
	"github.com/gin-gonic/gin"

	"islapay.com/internal/syncer"
	"islapay.com/pkg/common"
)

type SyncHandler struct {
	syncer *syncer.Syncer
}

func NewSyncHandler(s *syncer.Syncer) *SyncHandler {
	return &SyncHandler{syncer: s}
}

// Trigger 手工触发一轮同步。?mode=full 做全量，缺省增量
func (h *SyncHandler) Trigger(c *gin.Context) {
	mode := syncer.ModeIncremental
	if c.Query("mode") == string(syncer.ModeFull) {
		mode = syncer.ModeFull
	}

	report, err := h.syncer.SyncPass(c.Request.Context(), mode)
	if err != nil {
		common.FailLogged(c, err)
		return
	}
	common.Success(c, report)
}
