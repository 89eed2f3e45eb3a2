package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gerges15/minia-it-department-sub001/internal/dto"
	"github.com/gerges15/minia-it-department-sub001/internal/model"
	"github.com/gerges15/minia-it-department-sub001/internal/service"
	apperrors "github.com/gerges15/minia-it-department-sub001/pkg/errors"
	"github.com/gerges15/minia-it-department-sub001/pkg/response"
)

// bindJSON 解析请求体；失败时写入响应并返回 false，调用方应直接 return
// 请求体超出 BodyLimit 时返回 413
func bindJSON(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return false
	}
	response.BadRequest(c, 17001, "参数校验失败")
	return false
}

// parseDay 接受天名、缩写或 0-6 序号
func parseDay(raw dto.RawText) (int, error) {
	return service.DayIndex(string(raw))
}

// dayLabel 序号转天名，超出范围时回退为数字
func dayLabel(day int) string {
	if name, ok := service.DayName(day); ok {
		return name
	}
	return strconv.Itoa(day)
}

func toInterval(req dto.IntervalRequest) (model.Interval, error) {
	ct, err := model.ParseCourseType(req.Info.CourseType)
	if err != nil {
		return model.Interval{}, apperrors.Invalid("course_type", "必须为 Lecture 或 Practical")
	}
	return model.Interval{
		StartFrom: req.StartFrom.Int(),
		EndTo:     req.EndTo.Int(),
		Info: model.IntervalInfo{
			CourseCode:        strings.TrimSpace(req.Info.CourseCode),
			CourseType:        ct,
			CourseLevel:       req.Info.CourseLevel.Int(),
			TeachingPlace:     req.Info.TeachingPlace,
			TeachingAssistant: req.Info.TeachingAssistant,
		},
	}, nil
}

// toInsertDraft 课程类型可省略，由课程信息补全
func toInsertDraft(req dto.InsertDraftRequest) (service.InsertDraft, error) {
	day, err := parseDay(req.Day)
	if err != nil {
		return service.InsertDraft{}, err
	}
	var ct model.CourseType
	if strings.TrimSpace(req.CourseType) != "" {
		if ct, err = model.ParseCourseType(req.CourseType); err != nil {
			return service.InsertDraft{}, apperrors.Invalid("course_type", "必须为 Lecture 或 Practical")
		}
	}
	return service.InsertDraft{
		Level:             req.Level.Int(),
		Day:               day,
		StartFrom:         req.StartFrom.Int(),
		CourseCode:        req.CourseCode,
		CourseType:        ct,
		TeachingPlace:     req.TeachingPlace,
		TeachingAssistant: req.TeachingAssistant,
	}, nil
}

func toInsertDraftResponse(d service.InsertDraft) *dto.InsertDraftResponse {
	return &dto.InsertDraftResponse{
		Level:             d.Level,
		Day:               dayLabel(d.Day),
		StartFrom:         d.StartFrom,
		EndTo:             d.EndTo,
		CourseCode:        d.CourseCode,
		CourseType:        string(d.CourseType),
		TeachingPlace:     d.TeachingPlace,
		TeachingAssistant: d.TeachingAssistant,
	}
}

func toPendingMoveResponse(pm service.PendingMove) *dto.PendingMoveResponse {
	return &dto.PendingMoveResponse{
		Interval:         pm.Interval,
		Day:              dayLabel(pm.Day),
		RequiredInterval: pm.RequiredInterval,
	}
}

func toProjectionResponse(p service.Projection) dto.ProjectionResponse {
	resp := dto.ProjectionResponse{
		TimetableName:  p.TimetableName,
		Courses:        p.Courses,
		TeachingStaff:  p.TeachingStaff,
		TeachingPlaces: p.TeachingPlaces,
		SavedNames:     p.SavedNames,
		SearchResults:  p.SearchResults,
	}
	if p.PendingMove != nil {
		resp.PendingMove = toPendingMoveResponse(*p.PendingMove)
	}
	if p.InsertDraft != nil {
		resp.InsertDraft = toInsertDraftResponse(*p.InsertDraft)
	}
	return resp
}

func toStatusResponse(s service.Status) dto.StatusResponse {
	outstanding := s.Outstanding
	if outstanding == nil {
		outstanding = []string{}
	}
	return dto.StatusResponse{
		Connection:   s.Connection.String(),
		Ready:        s.Ready,
		HasTimetable: s.HasTimetable,
		Outstanding:  outstanding,
	}
}

func toNoticeResponses(notices []service.Notice) []dto.NoticeResponse {
	out := make([]dto.NoticeResponse, 0, len(notices))
	for _, n := range notices {
		out = append(out, dto.NoticeResponse{
			ID:        n.ID,
			Kind:      string(n.Kind),
			Command:   n.Command,
			Message:   n.Message,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}
