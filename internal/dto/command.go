package dto

import (
	"github.com/gerges15/minia-it-department-sub001/internal/model"
)

// ── Hub 命令载荷（发往服务端，字段为 camelCase） ──

// ExcludeModel 生成时间表时排除的地点、课程与教师，均可为空
type ExcludeModel struct {
	Places  []string `json:"places"`
	Courses []string `json:"courses"`
	Staff   []string `json:"staff"`
}

// Normalize 去重并去除空白项，nil 统一为空切片
func (e ExcludeModel) Normalize() ExcludeModel {
	return ExcludeModel{
		Places:  uniqueNonEmpty(e.Places),
		Courses: uniqueNonEmpty(e.Courses),
		Staff:   uniqueNonEmpty(e.Staff),
	}
}

// IntervalCommand addInterval / removeInterval 的载荷
type IntervalCommand struct {
	Level    int            `json:"level"`
	Day      int            `json:"day"`
	Interval model.Interval `json:"interval"`
}

func uniqueNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
