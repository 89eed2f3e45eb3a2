package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/config"
	"github.com/gerges15/minia-it-department-sub001/internal/api/handler"
	"github.com/gerges15/minia-it-department-sub001/internal/api/middleware"
	"github.com/gerges15/minia-it-department-sub001/internal/service"
	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
)

// Setup 初始化并返回 Gin 路由引擎
// jwtMgr 为 nil 时网关不做认证（仅监听本机时使用）
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Gateway.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(cfg.Gateway.BodyLimit))
	r.Use(middleware.RateLimit(cfg.Gateway.RateLimit.RPS, cfg.Gateway.RateLimit.Burst))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	{
		session := v1.Group("/session")
		{
			// 只读视图：断线期间仍可访问
			session.GET("/status", h.Session.GetStatus)
			session.GET("/projection", h.Session.GetProjection)
			session.GET("/notices", h.Session.ListNotices)
			session.DELETE("/notices/:id", h.Session.DismissNotice)
			session.POST("/reconnect", h.Session.Reconnect)

			// 本地草稿
			session.PUT("/drafts/insert", h.Session.SetInsertDraft)
			session.DELETE("/drafts/insert", h.Session.DiscardInsert)
			session.PUT("/drafts/move", h.Session.BeginMove)
			session.PATCH("/drafts/move", h.Session.UpdateMove)
			session.DELETE("/drafts/move", h.Session.CancelMove)

			// 命令：需要连接就绪
			cmd := session.Group("", middleware.RequireReady(h.Session.Ready))
			{
				cmd.POST("/resync", h.Session.Resync)
				cmd.POST("/generate", h.Session.Idle(service.InvokeGenerate), h.Session.Generate)
				cmd.POST("/undo", h.Session.Idle(service.InvokeUndo), h.Session.Undo)
				cmd.POST("/redo", h.Session.Idle(service.InvokeRedo), h.Session.Redo)

				cmd.POST("/timetables/list", h.Session.Idle(service.InvokeListSaved), h.Session.ListSaved)
				cmd.POST("/timetables/load", h.Session.Idle(service.InvokeLoad), h.Session.Load)
				cmd.POST("/timetables/save", h.Session.Save)
				cmd.DELETE("/timetables/:name", h.Session.Idle(service.InvokeDelete), h.Session.DeleteSaved)
				cmd.PUT("/timetables/active", h.Session.Idle(service.InvokeSetActive), h.Session.SetActive)
				cmd.POST("/timetables/active/load", h.Session.Idle(service.InvokeLoadActive), h.Session.LoadActive)

				cmd.POST("/intervals", h.Session.Idle(service.InvokeAddInterval), h.Session.AddInterval)
				cmd.POST("/intervals/remove", h.Session.Idle(service.InvokeRemoveInterval), h.Session.RemoveInterval)
				cmd.POST("/intervals/move", h.Session.Idle(service.InvokeMoveInterval), h.Session.MoveInterval)

				cmd.POST("/search/places", h.Session.Idle(service.InvokeFindPlaces), h.Session.FindValidPlaces)
				cmd.POST("/search/staff", h.Session.Idle(service.InvokeFindStaff), h.Session.FindValidStaff)

				cmd.POST("/drafts/insert/commit", h.Session.Idle(service.InvokeAddInterval), h.Session.CommitInsert)
				cmd.POST("/drafts/move/commit", h.Session.Idle(service.InvokeMoveInterval), h.Session.CommitMove)
			}
		}

		// 导出模块
		export := v1.Group("/export")
		{
			export.GET("/timetable", h.Export.ExportTimetable)
		}
	}

	return r
}
