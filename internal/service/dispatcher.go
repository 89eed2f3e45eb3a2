package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/dto"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// Invoker 发送远程调用并等待送达回执
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...any) error
}

// Tracker 记录等待结果的命令
type Tracker interface {
	// Track 在调用发出前登记，返回撤销函数（调用未送达时使用）
	Track(target string, args []any) (abort func())
}

// HourBounds 每日可排课的整点范围 [Start, End]
type HourBounds struct {
	Start int
	End   int
}

// Dispatcher 命令分发器
//
// 每个方法先在本地校验并整理参数，校验失败直接返回 ValidationError，不会触达连接；
// 校验通过后发出调用，连接拒绝时返回 InvocationError。
// 业务结果不在这里处理，由 Reconciler 通过结果事件异步接收。
type Dispatcher struct {
	conn    Invoker
	tracker Tracker
	bounds  HourBounds
	logger  *zap.Logger
}

// NewDispatcher 创建命令分发器；tracker 可为 nil
func NewDispatcher(conn Invoker, tracker Tracker, bounds HourBounds, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{conn: conn, tracker: tracker, bounds: bounds, logger: logger}
}

// Bounds 排课时间范围
func (d *Dispatcher) Bounds() HourBounds { return d.bounds }

// ── 时间表库 ──

// Generate 按排除条件生成时间表
func (d *Dispatcher) Generate(ctx context.Context, exclude dto.ExcludeModel, variant int) error {
	if variant < 0 {
		return apperrors.Invalid("variant", "不能为负数")
	}
	return d.send(ctx, InvokeGenerate, exclude.Normalize(), variant)
}

// ListSaved 获取已保存的时间表名称
func (d *Dispatcher) ListSaved(ctx context.Context) error {
	return d.send(ctx, InvokeListSaved)
}

// Load 加载已保存的时间表
func (d *Dispatcher) Load(ctx context.Context, name string) error {
	name, err := requireName(name)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeLoad, name)
}

// Save 以给定名称保存当前时间表；名称去除首尾空白后不能为空
func (d *Dispatcher) Save(ctx context.Context, name string) error {
	name, err := requireName(name)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeSave, name)
}

// DeleteSaved 删除已保存的时间表，调用方负责事先确认
func (d *Dispatcher) DeleteSaved(ctx context.Context, name string) error {
	name, err := requireName(name)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeDelete, name)
}

// SetActive 设为当前生效的时间表
func (d *Dispatcher) SetActive(ctx context.Context, name string) error {
	name, err := requireName(name)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeSetActive, name)
}

// LoadActive 加载当前生效的时间表
func (d *Dispatcher) LoadActive(ctx context.Context) error {
	return d.send(ctx, InvokeLoadActive)
}

// ── 编辑历史 ──

func (d *Dispatcher) Undo(ctx context.Context) error {
	return d.send(ctx, InvokeUndo)
}

func (d *Dispatcher) Redo(ctx context.Context) error {
	return d.send(ctx, InvokeRedo)
}

// ── 区间编辑 ──

// AddInterval 新增区间
func (d *Dispatcher) AddInterval(ctx context.Context, cmd dto.IntervalCommand) error {
	cmd, err := d.checkCommand(cmd)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeAddInterval, cmd)
}

// RemoveInterval 移除区间
//
// 服务端按区间的全部字段值匹配，同一天同一年级存在两个完全相同的区间时无法区分。
func (d *Dispatcher) RemoveInterval(ctx context.Context, cmd dto.IntervalCommand) error {
	cmd, err := d.checkCommand(cmd)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeRemoveInterval, cmd)
}

// MoveInterval 将区间移动到同一天的 required 时间段
func (d *Dispatcher) MoveInterval(ctx context.Context, interval model.Interval, day int, required model.HourRange) error {
	interval, err := d.checkInterval("interval", interval)
	if err != nil {
		return err
	}
	if err := checkDay(day); err != nil {
		return err
	}
	if err := d.checkRange("required_interval", required); err != nil {
		return err
	}
	return d.send(ctx, InvokeMoveInterval, interval, day, required)
}

// ── 搜索 ──

// FindValidPlaces 为教师查找连续 hours 小时空闲的地点
func (d *Dispatcher) FindValidPlaces(ctx context.Context, staffUsername, hours string) error {
	staffUsername = strings.TrimSpace(staffUsername)
	if staffUsername == "" {
		return apperrors.Invalid("staff_username", "不能为空")
	}
	h, err := ParseHours(hours)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeFindPlaces, staffUsername, h)
}

// FindValidStaff 为地点查找连续 hours 小时空闲的教师
func (d *Dispatcher) FindValidStaff(ctx context.Context, placeName, hours string) error {
	placeName = strings.TrimSpace(placeName)
	if placeName == "" {
		return apperrors.Invalid("place_name", "不能为空")
	}
	h, err := ParseHours(hours)
	if err != nil {
		return err
	}
	return d.send(ctx, InvokeFindStaff, placeName, h)
}

// ParseHours 解析搜索时长，必须是非负整数
func ParseHours(raw string) (int, error) {
	n, err := dto.ParseLooseInt(raw)
	if err != nil {
		return 0, apperrors.Invalid("hours", "必须是数字")
	}
	if n < 0 {
		return 0, apperrors.Invalid("hours", "不能为负数")
	}
	return n, nil
}

// ── 内部实现 ──

// send 登记并发出调用；不检查同类命令是否仍在等待，连续的命令全部立即发出
func (d *Dispatcher) send(ctx context.Context, target string, args ...any) error {
	abort := func() {}
	if d.tracker != nil {
		abort = d.tracker.Track(target, args)
	}

	if err := d.conn.Invoke(ctx, target, args...); err != nil {
		abort()
		d.logger.Warn("命令发送失败", zap.String("command", target), zap.Error(err))
		if !apperrors.IsInvocation(err) {
			err = &apperrors.InvocationError{Target: target, Err: err}
		}
		return err
	}

	d.logger.Debug("命令已送达", zap.String("command", target))
	return nil
}

func (d *Dispatcher) checkCommand(cmd dto.IntervalCommand) (dto.IntervalCommand, error) {
	if cmd.Level < 0 {
		return cmd, apperrors.Invalid("level", "不能为负数")
	}
	if err := checkDay(cmd.Day); err != nil {
		return cmd, err
	}
	iv, err := d.checkInterval("interval", cmd.Interval)
	if err != nil {
		return cmd, err
	}
	cmd.Interval = iv
	return cmd, nil
}

func (d *Dispatcher) checkInterval(field string, iv model.Interval) (model.Interval, error) {
	if err := d.checkRange(field, iv.Range()); err != nil {
		return iv, err
	}
	iv.Info.CourseCode = strings.TrimSpace(iv.Info.CourseCode)
	if iv.Info.CourseCode == "" {
		return iv, apperrors.Invalid(field+".info.course_code", "不能为空")
	}
	if iv.Info.CourseType != model.CourseLecture && iv.Info.CourseType != model.CoursePractical {
		return iv, apperrors.Invalid(field+".info.course_type", "必须是 Lecture 或 Practical")
	}
	if iv.Info.CourseLevel < 0 {
		return iv, apperrors.Invalid(field+".info.course_level", "不能为负数")
	}
	return iv, nil
}

func (d *Dispatcher) checkRange(field string, r model.HourRange) error {
	if r.StartFrom >= r.EndTo {
		return apperrors.Invalid(field, "开始时间 %d 必须早于结束时间 %d", r.StartFrom, r.EndTo)
	}
	if r.StartFrom < d.bounds.Start || r.EndTo > d.bounds.End {
		return apperrors.Invalid(field, "时间 %d-%d 超出可排课范围 %d-%d", r.StartFrom, r.EndTo, d.bounds.Start, d.bounds.End)
	}
	return nil
}

func checkDay(day int) error {
	if _, ok := DayName(day); !ok {
		return apperrors.Invalid("day", "序号 %d 超出范围 0-6", day)
	}
	return nil
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.Invalid("name", "不能为空")
	}
	return name, nil
}
