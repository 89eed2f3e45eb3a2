package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/internal/cache"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
)

// ── 导出模块业务错误 ──

var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

// ExportService 导出业务接口
//
// 设计说明：
//   - 导出内容来自本地缓存中的当前时间表，不向 Hub 发起任何调用
//   - 最近一次搜索结果来自会话视图，没有搜索结果时对应 Sheet 只有表头
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportTimetable 导出当前时间表为 Excel
	ExportTimetable(ctx context.Context) (*bytes.Buffer, string, error)
}

// projectionSource 提供会话视图
type projectionSource interface {
	Projection() Projection
}

type exportService struct {
	cache   *cache.TimetableCache
	session projectionSource
	logger  *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(c *cache.TimetableCache, session projectionSource, logger *zap.Logger) ExportService {
	return &exportService{cache: c, session: session, logger: logger}
}

const (
	sheetCourses = "课程"
	sheetStaff   = "教学人员"
	sheetPlaces  = "教学地点"
	sheetSearch  = "空闲时段"
)

// ═══════════════════════════════════════════════════════════
// ExportTimetable 导出当前时间表为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "课程"：课程代码 | 年级 | 类型 | 学时
//   - Sheet "教学人员" / "教学地点"：单列名称
//   - Sheet "空闲时段"：星期 | 教学人员 | 教学地点 | 空闲时段
//
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportTimetable(ctx context.Context) (*bytes.Buffer, string, error) {
	doc, ok := s.cache.Read(ctx)
	if !ok {
		return nil, "", apperrors.ErrNoTimetable
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 1. 课程
	courseRows := make([][]any, 0, len(doc.InMatchedCourses))
	for _, c := range doc.InMatchedCourses {
		courseRows = append(courseRows, []any{c.Code, c.Level, string(c.Type), c.LectureHours})
	}
	if err := writeSheet(f, sheetCourses, []string{"课程代码", "年级", "类型", "学时"}, courseRows, headerStyle); err != nil {
		return nil, "", s.fail(err)
	}

	// 2. 教学人员 / 教学地点
	if err := writeSheet(f, sheetStaff, []string{"教学人员"}, singleColumn(doc.TeachingStaffName), headerStyle); err != nil {
		return nil, "", s.fail(err)
	}
	if err := writeSheet(f, sheetPlaces, []string{"教学地点"}, singleColumn(doc.TeachingPlacesName), headerStyle); err != nil {
		return nil, "", s.fail(err)
	}

	// 3. 最近一次搜索结果
	var searchRows [][]any
	if res := s.session.Projection().SearchResults; res != nil {
		searchRows = searchResultRows(res)
	}
	if err := writeSheet(f, sheetSearch, []string{"星期", "教学人员", "教学地点", "空闲时段"}, searchRows, headerStyle); err != nil {
		return nil, "", s.fail(err)
	}

	if idx, err := f.GetSheetIndex(sheetCourses); err == nil {
		f.SetActiveSheet(idx)
	}
	// 删除默认 Sheet1
	_ = f.DeleteSheet("Sheet1")

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", s.fail(err)
	}

	name := doc.Name
	if name == "" {
		name = "当前时间表"
	}
	return buf, fmt.Sprintf("时间表_%s.xlsx", name), nil
}

func (s *exportService) fail(err error) error {
	s.logger.Error("写入 Excel 失败", zap.Error(err))
	return ErrExportGenerateFail
}

// ── 辅助函数 ──

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	for i, h := range header {
		if err := f.SetCellValue(sheet, cell(colName(i), 1), h); err != nil {
			return err
		}
		_ = f.SetColWidth(sheet, colName(i), colName(i), 18)
	}
	_ = f.SetCellStyle(sheet, cell("A", 1), cell(colName(len(header)-1), 1), headerStyle)

	for r, row := range rows {
		for c, v := range row {
			if err := f.SetCellValue(sheet, cell(colName(c), r+2), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func singleColumn(values []string) [][]any {
	rows := make([][]any, 0, len(values))
	for _, v := range values {
		rows = append(rows, []any{v})
	}
	return rows
}

// searchResultRows 按星期顺序展开搜索结果，无法识别的天名排在最后
func searchResultRows(res *model.SearchResult) [][]any {
	days := res.DayNames()
	sort.SliceStable(days, func(i, j int) bool {
		return dayOrder(days[i]) < dayOrder(days[j])
	})

	var rows [][]any
	for _, day := range days {
		for _, a := range res.Days[day] {
			rows = append(rows, []any{day, a.TeachingStaff, a.TeachingPlace, formatRanges(a.Intervals)})
		}
	}
	return rows
}

func dayOrder(name string) int {
	if idx, err := DayIndex(name); err == nil {
		return idx
	}
	return len(weekDays)
}

func formatRanges(ranges []model.HourRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, fmt.Sprintf("%d-%d", r.StartFrom, r.EndTo))
	}
	return strings.Join(parts, ", ")
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
