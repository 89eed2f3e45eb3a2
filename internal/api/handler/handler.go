package handler

import (
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Session *SessionHandler
	Export  *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Session: NewSessionHandler(svc.Session, logger),
		Export:  NewExportHandler(svc.Export),
	}
}
