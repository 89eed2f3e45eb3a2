package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ── 课程类型 ──

// CourseType 课程类型：讲授课 | 实践课
type CourseType string

const (
	CourseLecture   CourseType = "Lecture"
	CoursePractical CourseType = "Practical"
)

// courseTypeOrdinals 服务端枚举序号（未启用字符串枚举时按序号序列化）
var courseTypeOrdinals = []CourseType{CourseLecture, CoursePractical}

// ParseCourseType 解析课程类型，接受名称（大小写不敏感）或序号
func ParseCourseType(s string) (CourseType, error) {
	s = strings.TrimSpace(s)
	for _, ct := range courseTypeOrdinals {
		if strings.EqualFold(s, string(ct)) {
			return ct, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(courseTypeOrdinals) {
		return courseTypeOrdinals[n], nil
	}
	return "", fmt.Errorf("未知课程类型 %q", s)
}

// UnmarshalJSON 兼容字符串与数字两种编码
func (c *CourseType) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var (
		ct  CourseType
		err error
	)
	switch v := raw.(type) {
	case string:
		if v != "" {
			ct, err = ParseCourseType(v)
		}
	case float64:
		ct, err = ParseCourseType(strconv.Itoa(int(v)))
	case nil:
		ct = ""
	default:
		err = fmt.Errorf("课程类型格式无效: %s", b)
	}
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// ── 时间表文档 ──

// Course 当前时间表中已匹配的课程
type Course struct {
	Code         string     `json:"code"`
	Level        int        `json:"level"`
	Type         CourseType `json:"type"`
	LectureHours int        `json:"lectureHours"`
}

// HourRange 整点时间区间 [StartFrom, EndTo)
type HourRange struct {
	StartFrom int `json:"startFrom"`
	EndTo     int `json:"endTo"`
}

// Duration 区间时长（小时）
func (r HourRange) Duration() int { return r.EndTo - r.StartFrom }

// IntervalInfo 区间所承载的课程信息
type IntervalInfo struct {
	CourseCode        string     `json:"courseCode"`
	CourseType        CourseType `json:"courseType"`
	CourseLevel       int        `json:"courseLevel"`
	TeachingPlace     string     `json:"teachingPlace"`
	TeachingAssistant string     `json:"teachingAssistant"`
}

// Interval 时间表中的一个排课区间
//
// 服务端没有独立的区间标识，删除与移动都按全部字段值匹配。
type Interval struct {
	StartFrom int          `json:"startFrom"`
	EndTo     int          `json:"endTo"`
	Info      IntervalInfo `json:"info"`
}

// Range 返回区间的时间范围
func (i Interval) Range() HourRange {
	return HourRange{StartFrom: i.StartFrom, EndTo: i.EndTo}
}

// TimetableDocument 服务端时间表快照的类型化视图
//
// 除四个已知字段外，其余字段（按天、按年级的排课主体）对客户端不透明，
// 原样保存在 Extra 中。课程元素只解析已知字段，缓存保存的是服务端原始载荷，
// 这里的结构只用于生成视图。
type TimetableDocument struct {
	Name               string                     `json:"name"`
	InMatchedCourses   []Course                   `json:"inMatchedCourses"`
	TeachingStaffName  []string                   `json:"teachingStaffName"`
	TeachingPlacesName []string                   `json:"teachingPlacesName"`
	Extra              map[string]json.RawMessage `json:"-"`
}

var knownDocumentFields = map[string]bool{
	"name":               true,
	"inMatchedCourses":   true,
	"teachingStaffName":  true,
	"teachingPlacesName": true,
}

// UnmarshalJSON 解析已知字段并保留其余字段
func (d *TimetableDocument) UnmarshalJSON(b []byte) error {
	type plain TimetableDocument
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k, v := range all {
		if knownDocumentFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}

	*d = TimetableDocument(p)
	return nil
}

// MarshalJSON 合并已知字段与不透明字段
// nil 切片编码为 null，空切片编码为 []，再次解析后与原值一致
func (d TimetableDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extra)+4)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["name"] = d.Name
	out["inMatchedCourses"] = d.InMatchedCourses
	out["teachingStaffName"] = d.TeachingStaffName
	out["teachingPlacesName"] = d.TeachingPlacesName
	return json.Marshal(out)
}

// FindCourse 按课程代码（及可选类型）查找课程
// 同一代码同时存在讲授课与实践课时，优先匹配类型
func (d *TimetableDocument) FindCourse(code string, ct CourseType) (Course, bool) {
	var fallback *Course
	for i := range d.InMatchedCourses {
		c := &d.InMatchedCourses[i]
		if c.Code != code {
			continue
		}
		if ct == "" || c.Type == ct {
			return *c, true
		}
		if fallback == nil {
			fallback = c
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Course{}, false
}

// ── 搜索结果 ──

// SearchKind 搜索类型
type SearchKind string

const (
	SearchPlaces SearchKind = "places" // 为教师查找可用地点
	SearchStaff  SearchKind = "staff"  // 为地点查找可用教师
)

// Availability 单个教师或地点在某天的空闲时段
type Availability struct {
	TeachingStaff string      `json:"teachingStaff,omitempty"`
	TeachingPlace string      `json:"teachingPlace,omitempty"`
	Intervals     []HourRange `json:"intervals"`
}

// SearchResult 一次搜索的完整结果，按天名索引；每次响应整体替换
type SearchResult struct {
	Kind  SearchKind                `json:"kind"`
	Query string                    `json:"query"`
	Hours int                       `json:"hours"`
	Days  map[string][]Availability `json:"days"`
}

// DayNames 返回结果中出现的天名（排序后）
func (r *SearchResult) DayNames() []string {
	names := make([]string, 0, len(r.Days))
	for k := range r.Days {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// [自证通过] internal/model/timetable.go
