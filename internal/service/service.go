package service

import (
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/config"
	"github.com/gerges15/minia-it-department-sub001/internal/cache"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Session SessionService
	Export  ExportService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	conn Connection,
	c *cache.TimetableCache,
	logger *zap.Logger,
) *Service {
	bounds := HourBounds{Start: cfg.Schedule.DayStartHour, End: cfg.Schedule.DayEndHour}
	session := NewSessionService(conn, c, bounds, cfg.Hub.Endpoint(), logger)
	return &Service{
		Session: session,
		Export:  NewExportService(c, session, logger),
	}
}
