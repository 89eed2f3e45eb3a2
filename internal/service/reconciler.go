package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/cache"
	"github.com/gerges15/minia-it-department-sub001/internal/hub"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// Subscriber 为事件注册唯一处理器
type Subscriber interface {
	On(event string, h hub.Handler) error
}

// Reconciler 结果协调器
//
// 每个结果事件一个处理器。所有处理器在连接的单一分发协程中依次执行，
// 一个事件（缓存写入 + 投影重建）处理完毕后才会处理下一个，
// 因此缓存总是反映最近一次处理完成的结果。
type Reconciler struct {
	cache  *cache.TimetableCache
	state  *State
	logger *zap.Logger
}

// NewReconciler 创建结果协调器
func NewReconciler(c *cache.TimetableCache, state *State, logger *zap.Logger) *Reconciler {
	return &Reconciler{cache: c, state: state, logger: logger}
}

// mutatingEvents 成功时以 data 替换当前时间表的事件
var mutatingEvents = []string{
	EventGenerate,
	EventLoad,
	EventLoadActive,
	EventUndo,
	EventRedo,
	EventAddInterval,
	EventRemoveInterval,
	EventMoveInterval,
}

// Register 注册全部结果事件处理器
func (r *Reconciler) Register(sub Subscriber) error {
	handlers := map[string]hub.Handler{
		EventListSaved:  r.handleListSaved,
		EventSave:       r.handleSave,
		EventDelete:     r.handleDelete,
		EventSetActive:  r.handleSetActive,
		EventFindPlaces: r.searchHandler(EventFindPlaces, model.SearchPlaces),
		EventFindStaff:  r.searchHandler(EventFindStaff, model.SearchStaff),
	}
	for _, ev := range mutatingEvents {
		handlers[ev] = r.mutationHandler(ev)
	}

	for ev, h := range handlers {
		if err := sub.On(ev, h); err != nil {
			return fmt.Errorf("注册事件 %s 失败: %w", ev, err)
		}
	}
	return nil
}

// Bootstrap 从缓存恢复投影（进程重启后的重新加载路径）
func (r *Reconciler) Bootstrap(ctx context.Context) bool {
	doc, ok := r.cache.Read(ctx)
	r.state.project(doc)
	if ok {
		r.logger.Info("已从本地缓存恢复时间表", zap.String("name", doc.Name))
	}
	return ok
}

// ── 处理器 ──

func (r *Reconciler) mutationHandler(event string) hub.Handler {
	return func(args []json.RawMessage) {
		r.state.complete(event)
		r.applyMutation(event, hub.DecodeOutcome[json.RawMessage](args), true)
	}
}

// applyMutation 失败时保持缓存不变并提示；成功时原样写入 data、重读缓存、由重读结果重建投影
func (r *Reconciler) applyMutation(event string, out hub.Outcome[json.RawMessage], requireData bool) bool {
	ctx := context.Background()

	data, ok := out.Value()
	if !ok {
		r.fail(event, out.Message())
		return false
	}
	if len(data) == 0 {
		if requireData {
			r.fail(event, "结果缺少时间表数据")
		}
		return false
	}

	if _, err := r.cache.WriteRaw(ctx, data); err != nil {
		r.logger.Error("写入时间表缓存失败", zap.String("event", event), zap.Error(err))
		r.state.addNotice(NoticeError, event, "保存本地时间表失败")
		return false
	}

	current, ok := r.cache.Read(ctx)
	r.state.project(current)
	if ok {
		r.logger.Info("时间表已更新", zap.String("event", event), zap.String("name", current.Name))
	}
	return true
}

func (r *Reconciler) handleSave(args []json.RawMessage) {
	r.state.complete(EventSave)

	out := hub.DecodeOutcome[json.RawMessage](args)
	if r.applyMutation(EventSave, out, false) {
		return
	}
	if out.IsSuccess() {
		r.state.addNotice(NoticeInfo, EventSave, "时间表已保存")
	}
}

func (r *Reconciler) handleDelete(args []json.RawMessage) {
	cmd, _ := r.state.complete(EventDelete)

	out := hub.DecodeOutcome[json.RawMessage](args)
	if !out.IsSuccess() {
		r.fail(EventDelete, out.Message())
		return
	}

	ctx := context.Background()
	if err := r.cache.Clear(ctx); err != nil {
		r.logger.Error("清除时间表缓存失败", zap.Error(err))
	}
	current, _ := r.cache.Read(ctx)
	r.state.project(current)

	if name, ok := firstString(cmd.args); ok {
		r.state.removeSavedName(name)
		r.logger.Info("时间表已删除", zap.String("name", name))
	}
}

func (r *Reconciler) handleSetActive(args []json.RawMessage) {
	r.state.complete(EventSetActive)

	out := hub.DecodeOutcome[json.RawMessage](args)
	if !out.IsSuccess() {
		r.fail(EventSetActive, out.Message())
	}
}

func (r *Reconciler) handleListSaved(args []json.RawMessage) {
	r.state.complete(EventListSaved)

	names, err := hub.DecodePayload[[]string](args)
	if err != nil {
		r.fail(EventListSaved, err.Error())
		return
	}
	r.state.setSavedNames(names)
}

func (r *Reconciler) searchHandler(event string, kind model.SearchKind) hub.Handler {
	return func(args []json.RawMessage) {
		cmd, _ := r.state.complete(event)

		days, err := hub.DecodePayload[map[string][]model.Availability](args)
		if err != nil {
			r.fail(event, err.Error())
			return
		}

		result := &model.SearchResult{Kind: kind, Days: make(map[string][]model.Availability, len(days))}
		for k, v := range days {
			result.Days[normalizeDayKey(k)] = v
		}
		if q, ok := firstString(cmd.args); ok {
			result.Query = q
		}
		if len(cmd.args) > 1 {
			if h, ok := cmd.args[1].(int); ok {
				result.Hours = h
			}
		}
		r.state.setSearch(result)
	}
}

func (r *Reconciler) fail(event, message string) {
	err := &apperrors.BusinessFailure{Event: event, Message: message}
	r.logger.Warn("服务端返回失败结果", zap.String("event", event), zap.String("error", err.Error()))
	r.state.addNotice(NoticeError, event, err.Error())
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
