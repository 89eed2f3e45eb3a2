package service

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// NoticeKind 提示类型
type NoticeKind string

const (
	NoticeError      NoticeKind = "error"      // 服务端业务失败、调用失败
	NoticeValidation NoticeKind = "validation" // 本地校验失败
	NoticeInfo       NoticeKind = "info"
)

// maxNotices 保留的提示条数上限，超出时丢弃最早的
const maxNotices = 50

// Notice 可关闭的用户提示
type Notice struct {
	ID        string
	Kind      NoticeKind
	Command   string
	Message   string
	CreatedAt time.Time
}

// PendingMove 拖动中的区间草稿，提交或取消后丢弃
type PendingMove struct {
	Interval         model.Interval
	Day              int
	RequiredInterval model.HourRange
}

// InsertDraft 新增区间表单草稿；EndTo 由课程学时推导
type InsertDraft struct {
	Level             int
	Day               int
	StartFrom         int
	EndTo             int
	CourseCode        string
	CourseType        model.CourseType
	TeachingPlace     string
	TeachingAssistant string
}

// Projection 会话视图（只读快照）
type Projection struct {
	TimetableName  string
	HasTimetable   bool
	Courses        []model.Course
	TeachingStaff  []string
	TeachingPlaces []string
	SavedNames     []string
	SearchResults  *model.SearchResult
	PendingMove    *PendingMove
	InsertDraft    *InsertDraft
}

// Status 会话连接状态
type Status struct {
	Connection   hub.State
	Ready        bool
	HasTimetable bool
	Outstanding  []string
}

type pendingCommand struct {
	seq      uint64
	target   string
	args     []any
	issuedAt time.Time
}

// State 会话的显式状态对象
//
// 视图字段只由 Reconciler 写入（在单一事件分发协程中），
// 网关处理器并发读取，因此用读写锁保护。
type State struct {
	mu sync.RWMutex

	connection   hub.State
	hasTimetable bool
	name         string
	courses      []model.Course
	staff        []string
	places       []string
	savedNames   []string
	search       *model.SearchResult

	pendingMove *PendingMove
	insertDraft *InsertDraft

	outstanding map[string][]pendingCommand
	seq         uint64
	notices     []Notice
	now         func() time.Time
}

// NewState 创建空状态
func NewState() *State {
	return &State{
		connection:  hub.StateDisconnected,
		outstanding: make(map[string][]pendingCommand),
		now:         time.Now,
	}
}

// ── 连接 ──

func (s *State) setConnection(st hub.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = st
}

// Status 当前会话状态
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connection:   s.connection,
		Ready:        s.connection == hub.StateConnected,
		HasTimetable: s.hasTimetable,
		Outstanding:  s.outstandingLocked(),
	}
}

// ── 投影 ──

// project 由缓存读出的文档重建投影；doc 为 nil 表示没有时间表
func (s *State) project(doc *model.TimetableDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc == nil {
		s.hasTimetable = false
		s.name = ""
		s.courses, s.staff, s.places = nil, nil, nil
		return
	}
	s.hasTimetable = true
	s.name = doc.Name
	s.courses = append([]model.Course(nil), doc.InMatchedCourses...)
	s.staff = append([]string(nil), doc.TeachingStaffName...)
	s.places = append([]string(nil), doc.TeachingPlacesName...)
}

func (s *State) setSavedNames(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedNames = append([]string(nil), names...)
}

func (s *State) removeSavedName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.savedNames[:0]
	for _, n := range s.savedNames {
		if n != name {
			out = append(out, n)
		}
	}
	s.savedNames = out
}

func (s *State) setSearch(r *model.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = r
}

// Projection 返回视图快照，调用方可自由修改返回值
func (s *State) Projection() Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Projection{
		TimetableName:  s.name,
		HasTimetable:   s.hasTimetable,
		Courses:        append([]model.Course{}, s.courses...),
		TeachingStaff:  append([]string{}, s.staff...),
		TeachingPlaces: append([]string{}, s.places...),
		SavedNames:     append([]string{}, s.savedNames...),
	}
	if s.search != nil {
		cp := *s.search
		cp.Days = make(map[string][]model.Availability, len(s.search.Days))
		for k, v := range s.search.Days {
			cp.Days[k] = append([]model.Availability(nil), v...)
		}
		p.SearchResults = &cp
	}
	if s.pendingMove != nil {
		pm := *s.pendingMove
		p.PendingMove = &pm
	}
	if s.insertDraft != nil {
		d := *s.insertDraft
		p.InsertDraft = &d
	}
	return p
}

// ── 草稿 ──

func (s *State) setPendingMove(pm *PendingMove) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMove = pm
}

func (s *State) getPendingMove() (PendingMove, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pendingMove == nil {
		return PendingMove{}, false
	}
	return *s.pendingMove, true
}

// takePendingMove 取出并丢弃拖动草稿
func (s *State) takePendingMove() (PendingMove, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingMove == nil {
		return PendingMove{}, false
	}
	pm := *s.pendingMove
	s.pendingMove = nil
	return pm, true
}

func (s *State) setInsertDraft(d *InsertDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertDraft = d
}

// takeInsertDraft 取出并丢弃新增草稿
func (s *State) takeInsertDraft() (InsertDraft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertDraft == nil {
		return InsertDraft{}, false
	}
	d := *s.insertDraft
	s.insertDraft = nil
	return d, true
}

// ── 命令跟踪（实现 Tracker） ──

// Track 登记已发出的命令；同一调用可同时有多条等待结果，按发出顺序排队。
// 不跟踪的命令（保存）直接忽略。返回的函数用于撤销本次登记。
func (s *State) Track(target string, args []any) (abort func()) {
	if familyOf(target) == familyNone {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cmd := pendingCommand{seq: s.seq, target: target, args: args, issuedAt: s.now()}
	s.outstanding[target] = append(s.outstanding[target], cmd)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		queue := s.outstanding[target]
		for i := range queue {
			if queue[i].seq == cmd.seq {
				s.outstanding[target] = append(queue[:i:i], queue[i+1:]...)
				break
			}
		}
		if len(s.outstanding[target]) == 0 {
			delete(s.outstanding, target)
		}
	}
}

// Busy 同族命令仍在等待结果时返回 ErrCommandBusy
//
// 只用于界面层在发出前提示用户，分发器本身从不因此拒绝发送。
func (s *State) Busy(target string) error {
	f := familyOf(target)
	if f == familyNone {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for t, queue := range s.outstanding {
		if len(queue) > 0 && familyOf(t) == f {
			return &commandBusyError{family: f, target: t}
		}
	}
	return nil
}

// complete 结果到达，取出该调用最早的一条登记
func (s *State) complete(event string) (pendingCommand, bool) {
	target, ok := invocationOf(event)
	if !ok {
		return pendingCommand{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.outstanding[target]
	if len(queue) == 0 {
		return pendingCommand{}, false
	}
	cur := queue[0]
	if len(queue) == 1 {
		delete(s.outstanding, target)
	} else {
		s.outstanding[target] = queue[1:]
	}
	return cur, true
}

// clearOutstanding 清除全部登记（手动重新同步）
func (s *State) clearOutstanding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstanding = make(map[string][]pendingCommand)
}

func (s *State) outstandingLocked() []string {
	out := make([]string, 0, len(s.outstanding))
	for target, queue := range s.outstanding {
		for range queue {
			out = append(out, target)
		}
	}
	sort.Strings(out)
	return out
}

// commandBusyError 同族命令仍在等待结果
type commandBusyError struct {
	family family
	target string
}

func (e *commandBusyError) Error() string {
	return apperrors.ErrCommandBusy.Error() + ": " + e.target
}

func (e *commandBusyError) Unwrap() error { return apperrors.ErrCommandBusy }

// ── 提示 ──

func (s *State) addNotice(kind NoticeKind, command, message string) Notice {
	n := Notice{
		ID:        uuid.NewString(),
		Kind:      kind,
		Command:   command,
		Message:   message,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = append([]Notice(nil), s.notices[len(s.notices)-maxNotices:]...)
	}
	return n
}

// Notices 当前未关闭的提示（按时间先后）
func (s *State) Notices() []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notice{}, s.notices...)
}

// DismissNotice 关闭提示，不存在时返回 false
func (s *State) DismissNotice(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notices {
		if n.ID == id {
			s.notices = append(s.notices[:i], s.notices[i+1:]...)
			return true
		}
	}
	return false
}
