package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/cache"
	"github.com/gerges15/minia-it-department-sub001/internal/dto"
	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// ── 会话模块业务错误 ──

var (
	ErrNoPendingMove    = errors.New("没有进行中的区间移动")
	ErrNoInsertDraft    = errors.New("没有待提交的新增区间")
	ErrCourseNotFound   = errors.New("当前时间表中没有该课程")
	ErrSessionStarted   = errors.New("会话已启动")
	ErrSessionNotActive = errors.New("会话未启动")
)

// Connection 会话所需的连接能力，由 *hub.Connection 实现
type Connection interface {
	Invoker
	Subscriber
	Connect(ctx context.Context) error
	Disconnect() error
	State() hub.State
	OnStateChange(fn func(from, to hub.State))
}

// SessionService 实时编辑会话
//
// 设计说明：
//   - 命令方法只负责发出调用，返回 nil 表示服务端已收到；结果通过事件异步到达并写入缓存
//   - 视图（Projection）只由结果事件重建，命令方法从不直接修改视图
//   - 拖动与新增表单是纯本地草稿，提交时无论结果如何都会丢弃
//   - 命令方法不做忙碌拦截，连续发出的同类命令全部送达；是否拦截由界面层通过 Busy 判断
type SessionService interface {
	Start(ctx context.Context) error
	Stop() error
	Reconnect(ctx context.Context) error
	// Resync 清除等待中的命令并重新加载当前生效的时间表
	Resync(ctx context.Context) error

	Status() Status
	Projection() Projection
	Notices() []Notice
	DismissNotice(id string) bool
	// Busy 同族命令仍在等待结果时返回 ErrCommandBusy，由界面层决定是否继续发出
	Busy(command string) error

	Generate(ctx context.Context, exclude dto.ExcludeModel, variant int) error
	ListSaved(ctx context.Context) error
	Load(ctx context.Context, name string) error
	Save(ctx context.Context, name string) error
	DeleteSaved(ctx context.Context, name string) error
	SetActive(ctx context.Context, name string) error
	LoadActive(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	AddInterval(ctx context.Context, draft InsertDraft) error
	RemoveInterval(ctx context.Context, cmd dto.IntervalCommand) error
	MoveInterval(ctx context.Context, interval model.Interval, day int, required model.HourRange) error
	FindValidPlaces(ctx context.Context, staffUsername, hours string) error
	FindValidStaff(ctx context.Context, placeName, hours string) error

	SetInsertDraft(ctx context.Context, draft InsertDraft) (InsertDraft, error)
	CommitInsert(ctx context.Context) error
	DiscardInsert()
	BeginMove(interval model.Interval, day int) (PendingMove, error)
	UpdateMove(startFrom int) (PendingMove, error)
	CommitMove(ctx context.Context) error
	CancelMove()
}

type sessionService struct {
	conn       Connection
	cache      *cache.TimetableCache
	state      *State
	dispatcher *Dispatcher
	reconciler *Reconciler
	endpoint   string
	logger     *zap.Logger

	startMu sync.Mutex
	started bool
	draftMu sync.Mutex
}

// NewSessionService 创建会话；endpoint 仅用于错误信息
func NewSessionService(
	conn Connection,
	c *cache.TimetableCache,
	bounds HourBounds,
	endpoint string,
	logger *zap.Logger,
) SessionService {
	state := NewState()
	return &sessionService{
		conn:       conn,
		cache:      c,
		state:      state,
		dispatcher: NewDispatcher(conn, state, bounds, logger),
		reconciler: NewReconciler(c, state, logger),
		endpoint:   endpoint,
		logger:     logger,
	}
}

// ═══════════════════════════════════════════════════════════
// 生命周期
// ═══════════════════════════════════════════════════════════

// Start 启动会话
//
// 1. 从本地缓存恢复视图
// 2. 注册全部结果事件处理器（先于连接，避免丢失连接后立即到达的事件）
// 3. 建立连接；失败时会话处于 disconnected 状态，所有命令返回 ConnectionError
func (s *sessionService) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrSessionStarted
	}

	s.reconciler.Bootstrap(ctx)

	if err := s.reconciler.Register(s.conn); err != nil {
		return err
	}
	s.conn.OnStateChange(func(_, to hub.State) {
		s.state.setConnection(to)
	})
	s.started = true

	if err := s.conn.Connect(ctx); err != nil {
		s.state.setConnection(hub.StateDisconnected)
		s.logger.Error("会话连接失败，命令已禁用", zap.Error(err))
		s.state.addNotice(NoticeError, "connect", err.Error())
		return err
	}
	s.state.setConnection(s.conn.State())
	s.logger.Info("会话已启动")
	return nil
}

// Stop 关闭会话连接
func (s *sessionService) Stop() error {
	s.logger.Info("会话关闭")
	return s.conn.Disconnect()
}

// Reconnect 手动重连（初始连接失败或重连耗尽后）
func (s *sessionService) Reconnect(ctx context.Context) error {
	if !s.isStarted() {
		return ErrSessionNotActive
	}
	if err := s.conn.Connect(ctx); err != nil {
		s.state.addNotice(NoticeError, "connect", err.Error())
		return err
	}
	s.state.setConnection(s.conn.State())
	return nil
}

// Resync 清除等待中的命令并重新加载当前生效的时间表
func (s *sessionService) Resync(ctx context.Context) error {
	s.state.clearOutstanding()
	return s.LoadActive(ctx)
}

func (s *sessionService) Status() Status { return s.state.Status() }

func (s *sessionService) Projection() Projection { return s.state.Projection() }

func (s *sessionService) Notices() []Notice { return s.state.Notices() }

func (s *sessionService) DismissNotice(id string) bool { return s.state.DismissNotice(id) }

func (s *sessionService) Busy(command string) error { return s.state.Busy(command) }

// ═══════════════════════════════════════════════════════════
// 命令
// ═══════════════════════════════════════════════════════════

func (s *sessionService) Generate(ctx context.Context, exclude dto.ExcludeModel, variant int) error {
	return s.issue(InvokeGenerate, func() error { return s.dispatcher.Generate(ctx, exclude, variant) })
}

func (s *sessionService) ListSaved(ctx context.Context) error {
	return s.issue(InvokeListSaved, func() error { return s.dispatcher.ListSaved(ctx) })
}

func (s *sessionService) Load(ctx context.Context, name string) error {
	return s.issue(InvokeLoad, func() error { return s.dispatcher.Load(ctx, name) })
}

func (s *sessionService) Save(ctx context.Context, name string) error {
	return s.issue(InvokeSave, func() error { return s.dispatcher.Save(ctx, name) })
}

func (s *sessionService) DeleteSaved(ctx context.Context, name string) error {
	return s.issue(InvokeDelete, func() error { return s.dispatcher.DeleteSaved(ctx, name) })
}

func (s *sessionService) SetActive(ctx context.Context, name string) error {
	return s.issue(InvokeSetActive, func() error { return s.dispatcher.SetActive(ctx, name) })
}

func (s *sessionService) LoadActive(ctx context.Context) error {
	return s.issue(InvokeLoadActive, func() error { return s.dispatcher.LoadActive(ctx) })
}

func (s *sessionService) Undo(ctx context.Context) error {
	return s.issue(InvokeUndo, func() error { return s.dispatcher.Undo(ctx) })
}

func (s *sessionService) Redo(ctx context.Context) error {
	return s.issue(InvokeRedo, func() error { return s.dispatcher.Redo(ctx) })
}

// AddInterval 按课程学时推导结束时间后新增区间
func (s *sessionService) AddInterval(ctx context.Context, draft InsertDraft) error {
	return s.issue(InvokeAddInterval, func() error {
		cmd, err := s.composeInsert(ctx, &draft)
		if err != nil {
			return err
		}
		return s.dispatcher.AddInterval(ctx, cmd)
	})
}

func (s *sessionService) RemoveInterval(ctx context.Context, cmd dto.IntervalCommand) error {
	return s.issue(InvokeRemoveInterval, func() error { return s.dispatcher.RemoveInterval(ctx, cmd) })
}

func (s *sessionService) MoveInterval(ctx context.Context, interval model.Interval, day int, required model.HourRange) error {
	return s.issue(InvokeMoveInterval, func() error {
		return s.dispatcher.MoveInterval(ctx, interval, day, required)
	})
}

func (s *sessionService) FindValidPlaces(ctx context.Context, staffUsername, hours string) error {
	return s.issue(InvokeFindPlaces, func() error { return s.dispatcher.FindValidPlaces(ctx, staffUsername, hours) })
}

func (s *sessionService) FindValidStaff(ctx context.Context, placeName, hours string) error {
	return s.issue(InvokeFindStaff, func() error { return s.dispatcher.FindValidStaff(ctx, placeName, hours) })
}

// issue 检查连接状态后执行命令；所有被拒绝的命令都会留下一条提示
func (s *sessionService) issue(command string, fn func() error) error {
	if !s.isStarted() {
		return ErrSessionNotActive
	}
	if s.conn.State() == hub.StateDisconnected {
		err := &apperrors.ConnectionError{Endpoint: s.endpoint, Err: apperrors.ErrNotConnected}
		s.state.addNotice(NoticeError, command, err.Error())
		return err
	}

	err := fn()
	switch {
	case err == nil:
	case apperrors.IsValidation(err):
		s.state.addNotice(NoticeValidation, command, err.Error())
	case errors.Is(err, apperrors.ErrNoTimetable):
		// 由调用方直接展示
	default:
		s.state.addNotice(NoticeError, command, err.Error())
	}
	return err
}

func (s *sessionService) isStarted() bool {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.started
}

// ═══════════════════════════════════════════════════════════
// 草稿
// ═══════════════════════════════════════════════════════════

// SetInsertDraft 保存新增区间表单，返回推导出结束时间后的草稿
func (s *sessionService) SetInsertDraft(ctx context.Context, draft InsertDraft) (InsertDraft, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	cmd, err := s.composeInsert(ctx, &draft)
	if err != nil {
		return InsertDraft{}, err
	}
	if _, err := s.dispatcher.checkCommand(cmd); err != nil {
		return InsertDraft{}, err
	}
	s.state.setInsertDraft(&draft)
	return draft, nil
}

// CommitInsert 提交新增草稿；无论结果如何草稿都会被丢弃
func (s *sessionService) CommitInsert(ctx context.Context) error {
	s.draftMu.Lock()
	draft, ok := s.state.takeInsertDraft()
	s.draftMu.Unlock()
	if !ok {
		return ErrNoInsertDraft
	}
	return s.AddInterval(ctx, draft)
}

func (s *sessionService) DiscardInsert() {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	s.state.setInsertDraft(nil)
}

// BeginMove 开始移动已有区间；目标时间初始为区间当前时间
func (s *sessionService) BeginMove(interval model.Interval, day int) (PendingMove, error) {
	if err := checkDay(day); err != nil {
		return PendingMove{}, err
	}
	if interval.StartFrom >= interval.EndTo {
		return PendingMove{}, apperrors.Invalid("interval", "开始时间必须早于结束时间")
	}

	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	pm := PendingMove{Interval: interval, Day: day, RequiredInterval: interval.Range()}
	s.state.setPendingMove(&pm)
	return pm, nil
}

// UpdateMove 调整目标起始时间，时长保持不变
func (s *sessionService) UpdateMove(startFrom int) (PendingMove, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	pm, ok := s.state.getPendingMove()
	if !ok {
		return PendingMove{}, ErrNoPendingMove
	}
	required := model.HourRange{StartFrom: startFrom, EndTo: startFrom + pm.Interval.Range().Duration()}
	if err := s.dispatcher.checkRange("required_interval", required); err != nil {
		return PendingMove{}, err
	}
	pm.RequiredInterval = required
	s.state.setPendingMove(&pm)
	return pm, nil
}

// CommitMove 提交移动草稿；无论结果如何草稿都会被丢弃
func (s *sessionService) CommitMove(ctx context.Context) error {
	s.draftMu.Lock()
	pm, ok := s.state.takePendingMove()
	s.draftMu.Unlock()
	if !ok {
		return ErrNoPendingMove
	}
	return s.MoveInterval(ctx, pm.Interval, pm.Day, pm.RequiredInterval)
}

func (s *sessionService) CancelMove() {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	s.state.setPendingMove(nil)
}

// composeInsert 根据当前时间表中的课程补全草稿并生成 addInterval 载荷
// 结束时间 = 开始时间 + 课程学时，不接受外部输入
func (s *sessionService) composeInsert(ctx context.Context, draft *InsertDraft) (dto.IntervalCommand, error) {
	if err := checkDay(draft.Day); err != nil {
		return dto.IntervalCommand{}, err
	}
	draft.CourseCode = strings.TrimSpace(draft.CourseCode)
	if draft.CourseCode == "" {
		return dto.IntervalCommand{}, apperrors.Invalid("course_code", "不能为空")
	}

	doc, ok := s.cache.Read(ctx)
	if !ok {
		return dto.IntervalCommand{}, apperrors.ErrNoTimetable
	}
	course, ok := doc.FindCourse(draft.CourseCode, draft.CourseType)
	if !ok {
		return dto.IntervalCommand{}, apperrors.Invalid("course_code", "%s: %s", ErrCourseNotFound.Error(), draft.CourseCode)
	}
	if course.LectureHours <= 0 {
		return dto.IntervalCommand{}, apperrors.Invalid("course_code", "课程 %s 的学时无效", course.Code)
	}

	if draft.CourseType == "" {
		draft.CourseType = course.Type
	}
	if draft.Level == 0 {
		draft.Level = course.Level
	}
	draft.EndTo = draft.StartFrom + course.LectureHours

	return dto.IntervalCommand{
		Level: draft.Level,
		Day:   draft.Day,
		Interval: model.Interval{
			StartFrom: draft.StartFrom,
			EndTo:     draft.EndTo,
			Info: model.IntervalInfo{
				CourseCode:        course.Code,
				CourseType:        draft.CourseType,
				CourseLevel:       course.Level,
				TeachingPlace:     strings.TrimSpace(draft.TeachingPlace),
				TeachingAssistant: strings.TrimSpace(draft.TeachingAssistant),
			},
		},
	}, nil
}
