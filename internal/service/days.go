package service

import (
	"strconv"
	"strings"

	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// weekDays 天名 ↔ 天序号的唯一对照表，序号 0 为周日
// 天名只用于展示，发往 Hub 的一律是序号
var weekDays = [7]string{
	"Sunday",
	"Monday",
	"Tuesday",
	"Wednesday",
	"Thursday",
	"Friday",
	"Saturday",
}

// DayName 序号转天名
func DayName(index int) (string, bool) {
	if index < 0 || index >= len(weekDays) {
		return "", false
	}
	return weekDays[index], true
}

// DayIndex 天名（大小写不敏感，可用三字母缩写）或序号文本转序号
func DayIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperrors.Invalid("day", "不能为空")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := DayName(n); !ok {
			return 0, apperrors.Invalid("day", "序号 %d 超出范围 0-6", n)
		}
		return n, nil
	}
	for i, name := range weekDays {
		if strings.EqualFold(s, name) || (len(s) == 3 && strings.EqualFold(s, name[:3])) {
			return i, nil
		}
	}
	return 0, apperrors.Invalid("day", "无法识别的天名 %q", s)
}

// normalizeDayKey 搜索结果的天键统一为天名；无法识别时原样保留
func normalizeDayKey(key string) string {
	idx, err := DayIndex(key)
	if err != nil {
		return key
	}
	name, _ := DayName(idx)
	return name
}
