package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/api/middleware"
	"github.com/gerges15/minia-it-department-sub001/internal/dto"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	"github.com/gerges15/minia-it-department-sub001/internal/service"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
	"github.com/gerges15/minia-it-department-sub001/pkg/response"
)

// SessionHandler 实时时间表会话 HTTP 处理器
//
// 命令接口返回 202：Hub 已收到调用，结果稍后通过事件写入缓存，
// 客户端轮询 /projection 与 /status 获取最新视图。
type SessionHandler struct {
	sessionSvc service.SessionService
	logger     *zap.Logger
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessionSvc service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc, logger: logger}
}

// Ready 会话是否可以发送命令（供 RequireReady 中间件使用）
func (h *SessionHandler) Ready() bool {
	return h.sessionSvc.Status().Ready
}

// Idle 同类命令仍在等待结果时返回 409，避免界面重复发出
// 会话本身不拦截连续命令，拦截只在网关这一层进行
func (h *SessionHandler) Idle(command string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.sessionSvc.Busy(command); err != nil {
			h.handleSessionError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ── 视图 ──

// GetStatus 连接状态与等待中的命令
// GET /api/v1/session/status
func (h *SessionHandler) GetStatus(c *gin.Context) {
	response.OK(c, toStatusResponse(h.sessionSvc.Status()))
}

// GetProjection 当前时间表视图
// GET /api/v1/session/projection
func (h *SessionHandler) GetProjection(c *gin.Context) {
	response.OK(c, toProjectionResponse(h.sessionSvc.Projection()))
}

// ListNotices 提示列表（分页）
// GET /api/v1/session/notices?page=1&page_size=20
func (h *SessionHandler) ListNotices(c *gin.Context) {
	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		response.BadRequest(c, 17001, "分页参数无效")
		return
	}
	notices := h.sessionSvc.Notices()
	start, end := page.Window(len(notices))
	response.OKPage(c, toNoticeResponses(notices[start:end]), int64(len(notices)), page.GetPage(), page.GetPageSize())
}

// DismissNotice 关闭提示
// DELETE /api/v1/session/notices/:id
func (h *SessionHandler) DismissNotice(c *gin.Context) {
	if !h.sessionSvc.DismissNotice(c.Param("id")) {
		response.NotFound(c, 17009, "提示不存在")
		return
	}
	response.OK(c, nil)
}

// ── 连接 ──

// Reconnect 手动重连
// POST /api/v1/session/reconnect
func (h *SessionHandler) Reconnect(c *gin.Context) {
	if err := h.sessionSvc.Reconnect(c.Request.Context()); err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.OK(c, toStatusResponse(h.sessionSvc.Status()))
}

// Resync 清除等待中的命令并重新加载当前生效的时间表
// POST /api/v1/session/resync
func (h *SessionHandler) Resync(c *gin.Context) {
	h.respondIssued(c, service.InvokeLoadActive, h.sessionSvc.Resync(c.Request.Context()))
}

// ── 命令 ──

// Generate 生成时间表
// POST /api/v1/session/generate
func (h *SessionHandler) Generate(c *gin.Context) {
	var req dto.GenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.sessionSvc.Generate(c.Request.Context(), req.Exclude, req.Variant.Int())
	h.respondIssued(c, service.InvokeGenerate, err)
}

// ListSaved 刷新已保存时间表列表
// POST /api/v1/session/timetables/list
func (h *SessionHandler) ListSaved(c *gin.Context) {
	h.respondIssued(c, service.InvokeListSaved, h.sessionSvc.ListSaved(c.Request.Context()))
}

// Load 加载已保存的时间表
// POST /api/v1/session/timetables/load
func (h *SessionHandler) Load(c *gin.Context) {
	var req dto.NameRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondIssued(c, service.InvokeLoad, h.sessionSvc.Load(c.Request.Context(), req.Name))
}

// Save 以指定名称保存当前时间表
// POST /api/v1/session/timetables/save
func (h *SessionHandler) Save(c *gin.Context) {
	var req dto.NameRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondIssued(c, service.InvokeSave, h.sessionSvc.Save(c.Request.Context(), req.Name))
}

// DeleteSaved 删除已保存的时间表（确认由调用方负责）
// DELETE /api/v1/session/timetables/:name
func (h *SessionHandler) DeleteSaved(c *gin.Context) {
	h.respondIssued(c, service.InvokeDelete, h.sessionSvc.DeleteSaved(c.Request.Context(), c.Param("name")))
}

// SetActive 设为当前生效的时间表
// PUT /api/v1/session/timetables/active
func (h *SessionHandler) SetActive(c *gin.Context) {
	var req dto.NameRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondIssued(c, service.InvokeSetActive, h.sessionSvc.SetActive(c.Request.Context(), req.Name))
}

// LoadActive 加载当前生效的时间表
// POST /api/v1/session/timetables/active/load
func (h *SessionHandler) LoadActive(c *gin.Context) {
	h.respondIssued(c, service.InvokeLoadActive, h.sessionSvc.LoadActive(c.Request.Context()))
}

// Undo 撤销
// POST /api/v1/session/undo
func (h *SessionHandler) Undo(c *gin.Context) {
	h.respondIssued(c, service.InvokeUndo, h.sessionSvc.Undo(c.Request.Context()))
}

// Redo 重做
// POST /api/v1/session/redo
func (h *SessionHandler) Redo(c *gin.Context) {
	h.respondIssued(c, service.InvokeRedo, h.sessionSvc.Redo(c.Request.Context()))
}

// AddInterval 新增区间（结束时间由课程学时推导）
// POST /api/v1/session/intervals
func (h *SessionHandler) AddInterval(c *gin.Context) {
	var req dto.InsertDraftRequest
	if !bindJSON(c, &req) {
		return
	}
	draft, err := toInsertDraft(req)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	h.respondIssued(c, service.InvokeAddInterval, h.sessionSvc.AddInterval(c.Request.Context(), draft))
}

// RemoveInterval 移除区间（按全部字段值匹配）
// POST /api/v1/session/intervals/remove
func (h *SessionHandler) RemoveInterval(c *gin.Context) {
	var req dto.RemoveIntervalRequest
	if !bindJSON(c, &req) {
		return
	}
	day, err := parseDay(req.Day)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	iv, err := toInterval(req.Interval)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	cmd := dto.IntervalCommand{Level: req.Level.Int(), Day: day, Interval: iv}
	h.respondIssued(c, service.InvokeRemoveInterval, h.sessionSvc.RemoveInterval(c.Request.Context(), cmd))
}

// MoveInterval 一步完成区间移动
// POST /api/v1/session/intervals/move
func (h *SessionHandler) MoveInterval(c *gin.Context) {
	var req dto.MoveIntervalRequest
	if !bindJSON(c, &req) {
		return
	}
	day, err := parseDay(req.Day)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	iv, err := toInterval(req.Interval)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	required := model.HourRange{StartFrom: req.StartFrom.Int(), EndTo: req.EndTo.Int()}
	h.respondIssued(c, service.InvokeMoveInterval, h.sessionSvc.MoveInterval(c.Request.Context(), iv, day, required))
}

// FindValidPlaces 为教师查找可用地点
// POST /api/v1/session/search/places
func (h *SessionHandler) FindValidPlaces(c *gin.Context) {
	var req dto.FindPlacesRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.sessionSvc.FindValidPlaces(c.Request.Context(), req.StaffUsername, string(req.Hours))
	h.respondIssued(c, service.InvokeFindPlaces, err)
}

// FindValidStaff 为地点查找可用教师
// POST /api/v1/session/search/staff
func (h *SessionHandler) FindValidStaff(c *gin.Context) {
	var req dto.FindStaffRequest
	if !bindJSON(c, &req) {
		return
	}
	err := h.sessionSvc.FindValidStaff(c.Request.Context(), req.PlaceName, string(req.Hours))
	h.respondIssued(c, service.InvokeFindStaff, err)
}

// ── 草稿 ──

// SetInsertDraft 保存新增区间表单，返回推导后的草稿
// PUT /api/v1/session/drafts/insert
func (h *SessionHandler) SetInsertDraft(c *gin.Context) {
	var req dto.InsertDraftRequest
	if !bindJSON(c, &req) {
		return
	}
	draft, err := toInsertDraft(req)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	saved, err := h.sessionSvc.SetInsertDraft(c.Request.Context(), draft)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.OK(c, toInsertDraftResponse(saved))
}

// CommitInsert 提交新增草稿
// POST /api/v1/session/drafts/insert/commit
func (h *SessionHandler) CommitInsert(c *gin.Context) {
	h.respondIssued(c, service.InvokeAddInterval, h.sessionSvc.CommitInsert(c.Request.Context()))
}

// DiscardInsert 丢弃新增草稿
// DELETE /api/v1/session/drafts/insert
func (h *SessionHandler) DiscardInsert(c *gin.Context) {
	h.sessionSvc.DiscardInsert()
	response.OK(c, nil)
}

// BeginMove 开始移动已有区间
// PUT /api/v1/session/drafts/move
func (h *SessionHandler) BeginMove(c *gin.Context) {
	var req dto.BeginMoveRequest
	if !bindJSON(c, &req) {
		return
	}
	day, err := parseDay(req.Day)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	iv, err := toInterval(req.Interval)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	pm, err := h.sessionSvc.BeginMove(iv, day)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.OK(c, toPendingMoveResponse(pm))
}

// UpdateMove 调整移动目标起始时间
// PATCH /api/v1/session/drafts/move
func (h *SessionHandler) UpdateMove(c *gin.Context) {
	var req dto.UpdateMoveRequest
	if !bindJSON(c, &req) {
		return
	}
	pm, err := h.sessionSvc.UpdateMove(req.StartFrom.Int())
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	response.OK(c, toPendingMoveResponse(pm))
}

// CommitMove 提交移动草稿
// POST /api/v1/session/drafts/move/commit
func (h *SessionHandler) CommitMove(c *gin.Context) {
	h.respondIssued(c, service.InvokeMoveInterval, h.sessionSvc.CommitMove(c.Request.Context()))
}

// CancelMove 取消移动
// DELETE /api/v1/session/drafts/move
func (h *SessionHandler) CancelMove(c *gin.Context) {
	h.sessionSvc.CancelMove()
	response.OK(c, nil)
}

// ── 辅助 ──

// respondIssued 命令发出成功返回 202 与对应的结果事件名
func (h *SessionHandler) respondIssued(c *gin.Context, command string, err error) {
	if err != nil {
		h.handleSessionError(c, err)
		return
	}
	h.logger.Debug("命令已发出",
		zap.String("command", command),
		zap.String("username", middleware.Username(c)),
	)
	response.Accepted(c, dto.CommandAcceptedResponse{
		Command:     command,
		ResultEvent: service.ResultEvent(command),
	})
}

func (h *SessionHandler) handleSessionError(c *gin.Context, err error) {
	var (
		validation *apperrors.ValidationError
		connErr    *apperrors.ConnectionError
		invokeErr  *apperrors.InvocationError
	)
	switch {
	case errors.As(err, &validation):
		response.ErrorWithDetails(c, http.StatusBadRequest, 17001, "参数校验失败", validation.Error())
	case errors.Is(err, apperrors.ErrCommandBusy):
		response.Conflict(c, 17002, err.Error())
	case errors.Is(err, apperrors.ErrTokenExpired):
		response.ServiceUnavailable(c, 17003, "Hub 访问令牌已过期")
	case errors.As(err, &connErr):
		response.ServiceUnavailable(c, 17003, "实时连接不可用，请稍后重试或手动重连")
	case errors.Is(err, service.ErrSessionNotActive):
		response.ServiceUnavailable(c, 17003, "会话未启动")
	case errors.As(err, &invokeErr):
		response.BadGateway(c, 17004, "Hub 调用失败", invokeErr.Error())
	case errors.Is(err, apperrors.ErrNoTimetable):
		response.NotFound(c, 17005, "当前未加载任何时间表")
	case errors.Is(err, service.ErrNoInsertDraft):
		response.NotFound(c, 17006, "没有待提交的新增区间")
	case errors.Is(err, service.ErrNoPendingMove):
		response.NotFound(c, 17007, "没有进行中的区间移动")
	default:
		h.logger.Error("会话请求处理失败", zap.Error(err))
		response.InternalError(c)
	}
}
