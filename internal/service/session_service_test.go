package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/cache"
	"github.com/gerges15/minia-it-department-sub001/internal/dto"
	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
	"github.com/gerges15/minia-it-department-sub001/pkg/kvstore"
)

// ── 测试辅助 ──

const (
	docSpring = `{"name":"2026-spring","inMatchedCourses":[{"code":"COMP401","level":1,"type":"Lecture","lectureHours":3},{"code":"COMP402","level":2,"type":"Practical","lectureHours":2}],"teachingStaffName":["tutor1","tutor2"],"teachingPlacesName":["Hall A","Lab 3"],"levels":[{"level":1,"days":[[],[{"startFrom":9,"endTo":12,"info":{"courseCode":"COMP401"}}]]}]}`
	docAutumn = `{"name":"2026-autumn","inMatchedCourses":[{"code":"MATH101","level":1,"type":"Lecture","lectureHours":2}],"teachingStaffName":["tutor3"],"teachingPlacesName":["Hall B"],"levels":[]}`
	docUndo   = `{"name":"undo-state","inMatchedCourses":[],"teachingStaffName":["u"],"teachingPlacesName":[],"revision":1}`
	docRedo   = `{"name":"redo-state","inMatchedCourses":[],"teachingStaffName":["r"],"teachingPlacesName":[],"revision":2}`
)

type sessionFixture struct {
	svc   *sessionService
	conn  *mockConn
	cache *cache.TimetableCache
	store kvstore.Store
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()
	store := kvstore.NewMemory()
	c := cache.New(store, zap.NewNop())
	conn := newMockConn()
	svc := NewSessionService(conn, c, HourBounds{Start: 8, End: 17}, "http://hub.test/TimeTableHub", zap.NewNop()).(*sessionService)
	return &sessionFixture{svc: svc, conn: conn, cache: c, store: store}
}

func startedFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := newFixture(t)
	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	return f
}

// seed 直接写入存储（模拟上一次会话留下的缓存）
func (f *sessionFixture) seed(t *testing.T, raw string) {
	t.Helper()
	if err := f.store.Set(context.Background(), cache.StorageKey, []byte(raw)); err != nil {
		t.Fatalf("写入存储失败: %v", err)
	}
}

// stored 读取存储中的原始内容并解析为通用结构，便于逐字段比较
func (f *sessionFixture) stored(t *testing.T) any {
	t.Helper()
	raw, err := f.store.Get(context.Background(), cache.StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("读取存储失败: %v", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("存储内容不是合法 JSON: %v", err)
	}
	return v
}

func jsonValue(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("测试数据不是合法 JSON: %v", err)
	}
	return v
}

func lastNotice(t *testing.T, svc SessionService) Notice {
	t.Helper()
	ns := svc.Notices()
	if len(ns) == 0 {
		t.Fatal("期望产生提示，实际没有")
	}
	return ns[len(ns)-1]
}

// ── 失败结果不修改缓存 ──

func TestReconciler_FailureLeavesCacheUntouched(t *testing.T) {
	for _, event := range mutatingEvents {
		t.Run(event, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, docSpring)
			if err := f.svc.Start(context.Background()); err != nil {
				t.Fatalf("Start 失败: %v", err)
			}
			before := f.stored(t)
			projBefore := f.svc.Projection()

			f.conn.emit(t, event, failureEnvelope("课程冲突"))

			if !reflect.DeepEqual(before, f.stored(t)) {
				t.Error("失败结果不应修改缓存")
			}
			if !reflect.DeepEqual(projBefore, f.svc.Projection()) {
				t.Error("失败结果不应修改视图")
			}
			n := lastNotice(t, f.svc)
			if n.Kind != NoticeError || n.Message != "课程冲突" || n.Command != event {
				t.Errorf("提示内容不正确: %+v", n)
			}
		})
	}
}

// ── 成功结果整体替换缓存并由缓存重建视图 ──

func TestReconciler_SuccessReplacesCache(t *testing.T) {
	for _, event := range mutatingEvents {
		t.Run(event, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, docAutumn)
			if err := f.svc.Start(context.Background()); err != nil {
				t.Fatalf("Start 失败: %v", err)
			}

			f.conn.emit(t, event, successEnvelope(docSpring))

			if !reflect.DeepEqual(jsonValue(t, docSpring), f.stored(t)) {
				t.Errorf("缓存应与 data 逐字段一致\n期望 %s\n实际 %v", docSpring, f.stored(t))
			}

			doc, ok := f.cache.Read(context.Background())
			if !ok {
				t.Fatal("成功后缓存应存在")
			}
			p := f.svc.Projection()
			if !p.HasTimetable || p.TimetableName != "2026-spring" {
				t.Errorf("视图应指向新时间表，实际 %+v", p)
			}
			if !reflect.DeepEqual(p.Courses, doc.InMatchedCourses) ||
				!reflect.DeepEqual(p.TeachingStaff, doc.TeachingStaffName) ||
				!reflect.DeepEqual(p.TeachingPlaces, doc.TeachingPlacesName) {
				t.Errorf("视图应与缓存一致\n视图 %+v\n缓存 %+v", p, doc)
			}
			if p.Courses[1].Type != model.CoursePractical {
				t.Errorf("期望课程类型 Practical，实际 %s", p.Courses[1].Type)
			}
		})
	}
}

func TestReconciler_SuccessStoresDataVerbatim(t *testing.T) {
	f := startedFixture(t)
	data := `{"name":"2026-spring","inMatchedCourses":[{"code":"COMP401","name":"Algorithms","level":1,"type":1,"lectureHours":3,"practicalHours":2}],"teachingStaffName":["tutor1"],"teachingPlacesName":["Hall A"],"levels":[]}`

	f.conn.emit(t, EventLoad, successEnvelope(data))

	raw, err := f.store.Get(context.Background(), cache.StorageKey)
	if err != nil {
		t.Fatalf("读取存储失败: %v", err)
	}
	if string(raw) != data {
		t.Errorf("缓存应与 data 逐字节一致\n期望 %s\n实际 %s", data, raw)
	}
	p := f.svc.Projection()
	if len(p.Courses) != 1 || p.Courses[0].Type != model.CoursePractical || p.Courses[0].LectureHours != 3 {
		t.Errorf("视图应由缓存解析得到，实际 %+v", p.Courses)
	}
}

func TestReconciler_SuccessWithoutData(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docAutumn)
	_ = f.svc.Start(context.Background())
	before := f.stored(t)

	f.conn.emit(t, EventLoad, `{"isSuccess":true,"data":null}`)

	if !reflect.DeepEqual(before, f.stored(t)) {
		t.Error("缺少数据的成功结果不应修改缓存")
	}
	if n := lastNotice(t, f.svc); n.Kind != NoticeError {
		t.Errorf("缺少数据应提示错误，实际 %+v", n)
	}
}

func TestReconciler_MalformedEnvelope(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docAutumn)
	_ = f.svc.Start(context.Background())
	before := f.stored(t)

	f.conn.emit(t, EventGenerate, `"unexpected"`)

	if !reflect.DeepEqual(before, f.stored(t)) {
		t.Error("无法解析的结果不应修改缓存")
	}
	if len(f.svc.Notices()) == 0 {
		t.Error("无法解析的结果应产生提示")
	}
}

// ── 撤销/重做：最后处理的结果生效 ──

func TestReconciler_UndoRedoLastProcessedWins(t *testing.T) {
	f := startedFixture(t)

	// redo 的结果先到达
	f.conn.emit(t, EventRedo, successEnvelope(docRedo))
	if !reflect.DeepEqual(jsonValue(t, docRedo), f.stored(t)) {
		t.Fatal("redo 结果应写入缓存")
	}
	if got := f.svc.Projection().TimetableName; got != "redo-state" {
		t.Errorf("视图应为 redo-state，实际 %s", got)
	}

	// 迟到的 undo 结果覆盖之
	f.conn.emit(t, EventUndo, successEnvelope(docUndo))
	if !reflect.DeepEqual(jsonValue(t, docUndo), f.stored(t)) {
		t.Fatal("迟到的 undo 结果应覆盖缓存")
	}
	if got := f.svc.Projection().TimetableName; got != "undo-state" {
		t.Errorf("视图应为 undo-state，实际 %s", got)
	}
}

func TestSession_UndoThenRedoBothSent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())
	ctx := context.Background()

	if err := f.svc.Undo(ctx); err != nil {
		t.Fatalf("Undo 失败: %v", err)
	}
	if err := f.svc.Redo(ctx); err != nil {
		t.Fatalf("undo 未返回结果时 redo 也应立即发出，实际: %v", err)
	}
	if len(f.conn.callsTo(InvokeUndo)) != 1 || len(f.conn.callsTo(InvokeRedo)) != 1 {
		t.Fatalf("期望 undo 与 redo 各发出一次，实际 %d 次调用", f.conn.totalCalls())
	}
	if st := f.svc.Status(); !reflect.DeepEqual(st.Outstanding, []string{InvokeRedo, InvokeUndo}) {
		t.Errorf("期望等待中的命令为 [redo undo]，实际 %v", st.Outstanding)
	}
	if err := f.svc.Busy(InvokeRedo); !errors.Is(err, apperrors.ErrCommandBusy) {
		t.Errorf("撤销/重做等待结果时 Busy 应返回 ErrCommandBusy，实际: %v", err)
	}

	// redo 的结果先到达，迟到的 undo 结果随后覆盖
	f.conn.emit(t, EventRedo, successEnvelope(docRedo))
	f.conn.emit(t, EventUndo, successEnvelope(docUndo))

	if !reflect.DeepEqual(jsonValue(t, docUndo), f.stored(t)) {
		t.Errorf("缓存应为最后处理的 undo 结果，实际 %v", f.stored(t))
	}
	if got := f.svc.Projection().TimetableName; got != "undo-state" {
		t.Errorf("视图应为 undo-state，实际 %s", got)
	}
	if err := f.svc.Busy(InvokeUndo); err != nil {
		t.Errorf("结果全部到达后不应忙碌，实际: %v", err)
	}
}

func TestSession_SearchFamiliesSentConcurrently(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()

	if err := f.svc.FindValidPlaces(ctx, "tutor1", "2"); err != nil {
		t.Fatalf("FindValidPlaces 失败: %v", err)
	}
	if err := f.svc.FindValidStaff(ctx, "Hall A", "2"); err != nil {
		t.Errorf("查找地点等待结果时查找教师也应发出，实际: %v", err)
	}
	if len(f.conn.callsTo(InvokeFindStaff)) != 1 {
		t.Error("findValidStaff 应已发出")
	}
	if err := f.svc.Busy(InvokeGenerate); err != nil {
		t.Errorf("其他命令族不应忙碌，实际: %v", err)
	}
}

func TestSession_ResultsCompleteInIssueOrder(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()

	_ = f.svc.DeleteSaved(ctx, "first")
	_ = f.svc.DeleteSaved(ctx, "second")
	f.conn.emit(t, EventListSaved, `["first","second","third"]`)

	f.conn.emit(t, EventDelete, successEnvelope(`null`))
	if got := f.svc.Projection().SavedNames; !reflect.DeepEqual(got, []string{"second", "third"}) {
		t.Errorf("第一个删除结果应对应 first，实际 %v", got)
	}
	f.conn.emit(t, EventDelete, successEnvelope(`null`))
	if got := f.svc.Projection().SavedNames; !reflect.DeepEqual(got, []string{"third"}) {
		t.Errorf("第二个删除结果应对应 second，实际 %v", got)
	}
}

func TestSession_ResyncClearsOutstanding(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()

	_ = f.svc.Generate(ctx, dto.ExcludeModel{}, 1)
	if err := f.svc.Busy(InvokeGenerate); !errors.Is(err, apperrors.ErrCommandBusy) {
		t.Fatalf("期望 ErrCommandBusy，实际: %v", err)
	}

	if err := f.svc.Resync(ctx); err != nil {
		t.Fatalf("Resync 失败: %v", err)
	}
	if len(f.conn.callsTo(InvokeLoadActive)) != 1 {
		t.Error("Resync 应重新加载当前生效的时间表")
	}
	if err := f.svc.Busy(InvokeGenerate); err != nil {
		t.Errorf("Resync 后生成不应忙碌，实际: %v", err)
	}
}

func TestSession_InvokeFailureRemovesTracking(t *testing.T) {
	f := startedFixture(t)
	f.conn.invokeErr = errors.New("hub rejected")

	if err := f.svc.Undo(context.Background()); !apperrors.IsInvocation(err) {
		t.Fatalf("期望 InvocationError，实际: %v", err)
	}
	if st := f.svc.Status(); len(st.Outstanding) != 0 {
		t.Errorf("未送达的命令不应保持登记，实际 %v", st.Outstanding)
	}
}

// ── 校验拦截 ──

func TestSession_ValidationGate(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()

	for _, name := range []string{"", "   "} {
		if err := f.svc.Save(ctx, name); !apperrors.IsValidation(err) {
			t.Errorf("Save(%q) 期望 ValidationError，实际: %v", name, err)
		}
	}
	for _, hours := range []string{"-3", "abc"} {
		if err := f.svc.FindValidPlaces(ctx, "tutor1", hours); !apperrors.IsValidation(err) {
			t.Errorf("FindValidPlaces(tutor1, %q) 期望 ValidationError，实际: %v", hours, err)
		}
	}

	if n := f.conn.totalCalls(); n != 0 {
		t.Errorf("校验失败不应发出任何调用，实际 %d 次", n)
	}
	if ns := f.svc.Notices(); len(ns) != 4 || ns[0].Kind != NoticeValidation {
		t.Errorf("每次校验失败都应产生提示，实际 %+v", ns)
	}
	if st := f.svc.Status(); len(st.Outstanding) != 0 {
		t.Errorf("校验失败不应登记等待中的命令，实际 %v", st.Outstanding)
	}
}

// ── 新增区间：结束时间由课程学时推导 ──

func TestSession_AddIntervalDerivesEndTo(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())

	err := f.svc.AddInterval(context.Background(), InsertDraft{
		Day:           1,
		StartFrom:     9,
		CourseCode:    "COMP401",
		TeachingPlace: "Hall A",
	})
	if err != nil {
		t.Fatalf("AddInterval 失败: %v", err)
	}

	calls := f.conn.callsTo(InvokeAddInterval)
	if len(calls) != 1 {
		t.Fatalf("期望 1 次 addInterval 调用，实际 %d", len(calls))
	}
	cmd := calls[0].args[0].(dto.IntervalCommand)
	if cmd.Interval.EndTo != 12 {
		t.Errorf("期望 endTo=12，实际 %d", cmd.Interval.EndTo)
	}
	if cmd.Day != 1 || cmd.Level != 1 || cmd.Interval.StartFrom != 9 {
		t.Errorf("载荷不正确: %+v", cmd)
	}
	if cmd.Interval.Info.CourseType != model.CourseLecture || cmd.Interval.Info.CourseLevel != 1 {
		t.Errorf("课程信息应从当前时间表补全，实际 %+v", cmd.Interval.Info)
	}
}

func TestSession_AddIntervalRejections(t *testing.T) {
	t.Run("没有时间表", func(t *testing.T) {
		f := startedFixture(t)
		err := f.svc.AddInterval(context.Background(), InsertDraft{Day: 1, StartFrom: 9, CourseCode: "COMP401"})
		if !errors.Is(err, apperrors.ErrNoTimetable) {
			t.Errorf("期望 ErrNoTimetable，实际: %v", err)
		}
	})

	t.Run("课程不存在", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, docSpring)
		_ = f.svc.Start(context.Background())
		err := f.svc.AddInterval(context.Background(), InsertDraft{Day: 1, StartFrom: 9, CourseCode: "NOPE"})
		if !apperrors.IsValidation(err) {
			t.Errorf("期望 ValidationError，实际: %v", err)
		}
	})

	t.Run("推导结束时间超出范围", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, docSpring)
		_ = f.svc.Start(context.Background())
		err := f.svc.AddInterval(context.Background(), InsertDraft{Day: 1, StartFrom: 16, CourseCode: "COMP401"})
		if !apperrors.IsValidation(err) {
			t.Errorf("16+3 超出 17 点应被拒绝，实际: %v", err)
		}
		if f.conn.totalCalls() != 0 {
			t.Error("被拒绝的新增不应发出调用")
		}
	})
}

func TestSession_InsertDraftLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())
	ctx := context.Background()

	draft, err := f.svc.SetInsertDraft(ctx, InsertDraft{Day: 2, StartFrom: 10, CourseCode: "COMP402"})
	if err != nil {
		t.Fatalf("SetInsertDraft 失败: %v", err)
	}
	if draft.EndTo != 12 || draft.CourseType != model.CoursePractical || draft.Level != 2 {
		t.Errorf("草稿应补全课程信息，实际 %+v", draft)
	}
	if p := f.svc.Projection(); p.InsertDraft == nil || p.InsertDraft.EndTo != 12 {
		t.Errorf("视图应包含新增草稿，实际 %+v", p.InsertDraft)
	}

	if err := f.svc.CommitInsert(ctx); err != nil {
		t.Fatalf("CommitInsert 失败: %v", err)
	}
	if len(f.conn.callsTo(InvokeAddInterval)) != 1 {
		t.Error("提交草稿应发出 addInterval")
	}
	if f.svc.Projection().InsertDraft != nil {
		t.Error("提交后草稿应被丢弃")
	}
	if err := f.svc.CommitInsert(ctx); !errors.Is(err, ErrNoInsertDraft) {
		t.Errorf("期望 ErrNoInsertDraft，实际: %v", err)
	}
}

// ── 移动草稿 ──

func TestSession_MoveDraftLifecycle(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()
	iv := validInterval()

	pm, err := f.svc.BeginMove(iv, 1)
	if err != nil {
		t.Fatalf("BeginMove 失败: %v", err)
	}
	if pm.RequiredInterval != iv.Range() {
		t.Errorf("初始目标区间应为原区间，实际 %+v", pm.RequiredInterval)
	}

	if _, err := f.svc.UpdateMove(15); !apperrors.IsValidation(err) {
		t.Errorf("15+3 超出范围应被拒绝，实际: %v", err)
	}
	pm, err = f.svc.UpdateMove(13)
	if err != nil {
		t.Fatalf("UpdateMove 失败: %v", err)
	}
	if pm.RequiredInterval != (model.HourRange{StartFrom: 13, EndTo: 16}) {
		t.Errorf("目标区间应保持时长，实际 %+v", pm.RequiredInterval)
	}

	if f.stored(t) != nil {
		t.Error("草稿不应写入缓存")
	}

	if err := f.svc.CommitMove(ctx); err != nil {
		t.Fatalf("CommitMove 失败: %v", err)
	}
	calls := f.conn.callsTo(InvokeMoveInterval)
	if len(calls) != 1 || calls[0].args[1] != 1 || calls[0].args[2] != (model.HourRange{StartFrom: 13, EndTo: 16}) {
		t.Errorf("moveInterval 参数不正确: %+v", calls)
	}
	if f.svc.Projection().PendingMove != nil {
		t.Error("提交后草稿应被丢弃")
	}
}

func TestSession_MoveDraftDiscardedOnFailure(t *testing.T) {
	f := startedFixture(t)
	f.conn.invokeErr = &apperrors.InvocationError{Target: InvokeMoveInterval, Err: errors.New("broken pipe")}

	if _, err := f.svc.BeginMove(validInterval(), 3); err != nil {
		t.Fatalf("BeginMove 失败: %v", err)
	}
	if err := f.svc.CommitMove(context.Background()); !apperrors.IsInvocation(err) {
		t.Errorf("期望 InvocationError，实际: %v", err)
	}
	if f.svc.Projection().PendingMove != nil {
		t.Error("无论结果如何草稿都应被丢弃")
	}
	if err := f.svc.CommitMove(context.Background()); !errors.Is(err, ErrNoPendingMove) {
		t.Errorf("期望 ErrNoPendingMove，实际: %v", err)
	}
	if st := f.svc.Status(); len(st.Outstanding) != 0 {
		t.Errorf("未送达的命令不应保持等待状态，实际 %v", st.Outstanding)
	}
}

func TestSession_CancelMove(t *testing.T) {
	f := startedFixture(t)
	if _, err := f.svc.BeginMove(validInterval(), 0); err != nil {
		t.Fatalf("BeginMove 失败: %v", err)
	}
	f.svc.CancelMove()
	if f.svc.Projection().PendingMove != nil {
		t.Error("取消后草稿应被丢弃")
	}
	if _, err := f.svc.UpdateMove(10); !errors.Is(err, ErrNoPendingMove) {
		t.Errorf("期望 ErrNoPendingMove，实际: %v", err)
	}
}

// ── 损坏的缓存 ──

func TestSession_CorruptCacheOnStartup(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "definitely not json")

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("损坏的缓存不应导致启动失败: %v", err)
	}
	if _, ok := f.cache.Read(context.Background()); ok {
		t.Error("损坏的缓存应视为不存在")
	}
	if p := f.svc.Projection(); p.HasTimetable || len(p.Courses) != 0 {
		t.Errorf("视图应为空，实际 %+v", p)
	}
	if len(f.svc.Notices()) != 0 {
		t.Error("损坏的缓存不应向用户提示")
	}
}

func TestSession_BootstrapFromCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())

	p := f.svc.Projection()
	if p.TimetableName != "2026-spring" || len(p.Courses) != 2 || len(p.TeachingPlaces) != 2 {
		t.Errorf("启动时应从缓存恢复视图，实际 %+v", p)
	}
	if f.conn.totalCalls() != 0 {
		t.Error("恢复视图不应发出调用")
	}
}

// ── 删除 ──

func TestSession_DeleteClearsCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())
	ctx := context.Background()

	_ = f.svc.ListSaved(ctx)
	f.conn.emit(t, EventListSaved, `["2026-spring","2026-autumn"]`)

	if err := f.svc.DeleteSaved(ctx, "2026-spring"); err != nil {
		t.Fatalf("DeleteSaved 失败: %v", err)
	}
	f.conn.emit(t, EventDelete, `{"isSuccess":true}`)

	if _, ok := f.cache.Read(ctx); ok {
		t.Error("删除成功后缓存应为空")
	}
	p := f.svc.Projection()
	if p.HasTimetable || len(p.Courses) != 0 {
		t.Errorf("删除后视图应为空，实际 %+v", p)
	}
	if !reflect.DeepEqual(p.SavedNames, []string{"2026-autumn"}) {
		t.Errorf("已删除的名称应从列表移除，实际 %v", p.SavedNames)
	}
}

func TestSession_DeleteFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, docSpring)
	_ = f.svc.Start(context.Background())

	_ = f.svc.DeleteSaved(context.Background(), "2026-spring")
	f.conn.emit(t, EventDelete, failureEnvelope("时间表不存在"))

	if _, ok := f.cache.Read(context.Background()); !ok {
		t.Error("删除失败时缓存应保留")
	}
	if n := lastNotice(t, f.svc); n.Message != "时间表不存在" {
		t.Errorf("提示内容不正确: %+v", n)
	}
}

// ── 非修改类事件 ──

func TestSession_ListSavedReplacesNames(t *testing.T) {
	f := startedFixture(t)
	f.conn.emit(t, EventListSaved, `["a","b"]`)
	f.conn.emit(t, EventListSaved, `["c"]`)

	if got := f.svc.Projection().SavedNames; !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("列表应整体替换，实际 %v", got)
	}
	if f.stored(t) != nil {
		t.Error("列表事件不应写入缓存")
	}
}

func TestSession_SearchResultsReplacedWholesale(t *testing.T) {
	f := startedFixture(t)
	ctx := context.Background()

	if err := f.svc.FindValidPlaces(ctx, "tutor1", "2"); err != nil {
		t.Fatalf("FindValidPlaces 失败: %v", err)
	}
	f.conn.emit(t, EventFindPlaces, `{"1":[{"teachingPlace":"Hall A","intervals":[{"startFrom":9,"endTo":11}]}],"Tuesday":[]}`)

	res := f.svc.Projection().SearchResults
	if res == nil || res.Kind != model.SearchPlaces || res.Query != "tutor1" || res.Hours != 2 {
		t.Fatalf("搜索结果不正确: %+v", res)
	}
	if len(res.Days["Monday"]) != 1 || res.Days["Monday"][0].TeachingPlace != "Hall A" {
		t.Errorf("天序号键应转换为天名，实际 %+v", res.Days)
	}

	if err := f.svc.FindValidStaff(ctx, "Lab 3", "1"); err != nil {
		t.Fatalf("FindValidStaff 失败: %v", err)
	}
	f.conn.emit(t, EventFindStaff, `{"Friday":[{"teachingStaff":"tutor2","intervals":[{"startFrom":13,"endTo":14}]}]}`)

	res = f.svc.Projection().SearchResults
	if res.Kind != model.SearchStaff || res.Query != "Lab 3" {
		t.Errorf("新的搜索结果应整体替换，实际 %+v", res)
	}
	if _, ok := res.Days["Monday"]; ok {
		t.Error("搜索结果不应合并")
	}
}

func TestSession_SetActiveNotices(t *testing.T) {
	f := startedFixture(t)

	f.conn.emit(t, EventSetActive, `{"isSuccess":true}`)
	if len(f.svc.Notices()) != 0 {
		t.Error("设为当前成功时不应提示")
	}

	f.conn.emit(t, EventSetActive, failureEnvelope("无权限"))
	if n := lastNotice(t, f.svc); n.Command != EventSetActive || n.Message != "无权限" {
		t.Errorf("提示内容不正确: %+v", n)
	}
}

func TestSession_SaveResult(t *testing.T) {
	t.Run("无数据", func(t *testing.T) {
		f := startedFixture(t)
		f.conn.emit(t, EventSave, `{"isSuccess":true}`)
		if n := lastNotice(t, f.svc); n.Kind != NoticeInfo {
			t.Errorf("保存成功应提示，实际 %+v", n)
		}
		if f.stored(t) != nil {
			t.Error("无数据的保存结果不应写入缓存")
		}
	})

	t.Run("带数据", func(t *testing.T) {
		f := startedFixture(t)
		f.conn.emit(t, EventSave, successEnvelope(docAutumn))
		if !reflect.DeepEqual(jsonValue(t, docAutumn), f.stored(t)) {
			t.Error("带数据的保存结果应写入缓存")
		}
	})

	t.Run("失败", func(t *testing.T) {
		f := startedFixture(t)
		f.conn.emit(t, EventSave, failureEnvelope("名称重复"))
		if n := lastNotice(t, f.svc); n.Kind != NoticeError || n.Message != "名称重复" {
			t.Errorf("提示内容不正确: %+v", n)
		}
	})

	t.Run("保存不登记等待状态", func(t *testing.T) {
		f := startedFixture(t)
		_ = f.svc.Save(context.Background(), "x")
		if err := f.svc.Save(context.Background(), "x"); err != nil {
			t.Errorf("连续保存不应被拒绝，实际: %v", err)
		}
	})
}

// ── 连接状态 ──

func TestSession_StartFailureDisablesCommands(t *testing.T) {
	f := newFixture(t)
	f.conn.connectErr = &apperrors.ConnectionError{Endpoint: "http://hub.test/TimeTableHub", Err: errors.New("connection refused")}

	err := f.svc.Start(context.Background())
	if !apperrors.IsConnection(err) {
		t.Fatalf("期望 ConnectionError，实际: %v", err)
	}
	st := f.svc.Status()
	if st.Connection != hub.StateDisconnected || st.Ready {
		t.Errorf("期望 disconnected，实际 %+v", st)
	}

	if err := f.svc.Generate(context.Background(), dto.ExcludeModel{}, 0); !apperrors.IsConnection(err) {
		t.Errorf("断开时命令应返回 ConnectionError，实际: %v", err)
	}
	if f.conn.totalCalls() != 0 {
		t.Error("断开时不应发出调用")
	}

	// 手动重连后命令恢复
	f.conn.connectErr = nil
	if err := f.svc.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect 失败: %v", err)
	}
	if !f.svc.Status().Ready {
		t.Error("重连后应就绪")
	}
	if err := f.svc.Generate(context.Background(), dto.ExcludeModel{}, 0); err != nil {
		t.Errorf("重连后命令应可发出，实际: %v", err)
	}
}

func TestSession_InvokeWhileReconnecting(t *testing.T) {
	f := startedFixture(t)
	f.conn.setState(hub.StateReconnecting)

	err := f.svc.LoadActive(context.Background())
	if !apperrors.IsInvocation(err) {
		t.Errorf("重连中调用应返回 InvocationError，实际: %v", err)
	}
	if st := f.svc.Status(); st.Connection != hub.StateReconnecting || st.Ready {
		t.Errorf("状态应为 reconnecting，实际 %+v", st)
	}
	if st := f.svc.Status(); len(st.Outstanding) != 0 {
		t.Errorf("未送达的命令不应保持等待状态，实际 %v", st.Outstanding)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Undo(context.Background()); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("未启动时期望 ErrSessionNotActive，实际: %v", err)
	}

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	if err := f.svc.Start(context.Background()); !errors.Is(err, ErrSessionStarted) {
		t.Errorf("重复启动期望 ErrSessionStarted，实际: %v", err)
	}

	events := append([]string{EventListSaved, EventSave, EventDelete, EventSetActive, EventFindPlaces, EventFindStaff}, mutatingEvents...)
	for _, ev := range events {
		if _, ok := f.conn.handlers[strings.ToLower(ev)]; !ok {
			t.Errorf("事件 %s 未注册处理器", ev)
		}
	}

	if err := f.svc.Stop(); err != nil {
		t.Fatalf("Stop 失败: %v", err)
	}
	if f.conn.disconnects != 1 {
		t.Errorf("Stop 应断开连接，实际 %d 次", f.conn.disconnects)
	}
}

func TestSession_DismissNotice(t *testing.T) {
	f := startedFixture(t)
	f.conn.emit(t, EventUndo, failureEnvelope("没有可撤销的操作"))

	n := lastNotice(t, f.svc)
	if !f.svc.DismissNotice(n.ID) {
		t.Fatal("关闭已有提示应返回 true")
	}
	if f.svc.DismissNotice(n.ID) {
		t.Error("重复关闭应返回 false")
	}
	if len(f.svc.Notices()) != 0 {
		t.Error("关闭后提示列表应为空")
	}
}
