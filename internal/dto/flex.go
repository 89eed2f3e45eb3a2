package dto

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexInt 接受 JSON 数字或数字字符串，统一转换为整数
// 小数按向零截断（与表单输入 parseInt 的行为一致）
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		n, err := truncInt(v)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	case string:
		n, err := ParseLooseInt(v)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	case nil:
		*f = 0
		return nil
	default:
		return fmt.Errorf("期望数字, 实际 %s", b)
	}
}

// Int 转换为 int
func (f FlexInt) Int() int { return int(f) }

// ParseLooseInt 解析可能带空白或小数部分的整数文本
// 超出 int32 范围的数值视为无效，结果与平台字长无关
func ParseLooseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	fv, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(fv) || math.IsInf(fv, 0) {
		return 0, fmt.Errorf("%q 不是有效数字", s)
	}
	return truncInt(fv)
}

// truncInt 向零截断并检查 int32 范围
func truncInt(v float64) (int, error) {
	t := math.Trunc(v)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, fmt.Errorf("数值 %g 超出范围", v)
	}
	return int(t), nil
}

// RawText 接受 JSON 字符串或数字，保留原始文本，交由业务层校验
type RawText string

func (r *RawText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = RawText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("期望字符串或数字, 实际 %s", b)
	}
	*r = RawText(n.String())
	return nil
}
