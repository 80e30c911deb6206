package webuntis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"untiscal/internal/model"
)

// Element types understood by getTimetable.
const (
	ElementClass   = 1
	ElementTeacher = 2
	ElementSubject = 3
	ElementRoom    = 4
	ElementStudent = 5
)

// Element selects whose timetable is requested.
type Element struct {
	ID   int
	Type int
}

// Timetable returns the lessons of el between start and end inclusive (both
// YYYYMMDD).
func (c *Client) Timetable(ctx context.Context, s *Session, el Element, start, end int) ([]model.Lesson, error) {
	params := map[string]any{
		"options": map[string]any{
			"id":               c.now().UnixMilli(),
			"element":          map[string]int{"id": el.ID, "type": el.Type},
			"startDate":        start,
			"endDate":          end,
			"showLsText":       true,
			"showStudentgroup": true,
			"showLsNumber":     true,
			"showSubstText":    true,
			"showInfo":         true,
			"showBooking":      true,
			"klasseFields":     []string{"id", "name", "longname", "externalkey"},
			"roomFields":       []string{"id", "name", "longname", "externalkey"},
			"subjectFields":    []string{"id", "name", "longname", "externalkey"},
			"teacherFields":    []string{"id", "name", "longname", "externalkey"},
		},
	}

	var raw []wireLesson
	if _, err := c.call(ctx, rpcPath, nil, s, "getTimetable", params, &raw); err != nil {
		return nil, err
	}

	lessons := make([]model.Lesson, 0, len(raw))
	for i, w := range raw {
		l, err := w.toModel(fmt.Sprintf("lessons[%d]", i))
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, nil
}

// CurrentSchoolyear returns the school year containing today.
func (c *Client) CurrentSchoolyear(ctx context.Context, s *Session) (model.Schoolyear, error) {
	var w wireSchoolyear
	if _, err := c.call(ctx, rpcPath, nil, s, "getCurrentSchoolyear", map[string]any{}, &w); err != nil {
		return model.Schoolyear{}, err
	}
	if w.ID == nil || w.Name == nil {
		return model.Schoolyear{}, missing("schoolyear", "id/name")
	}
	return model.Schoolyear{ID: *w.ID, Name: *w.Name, StartDate: w.StartDate, EndDate: w.EndDate}, nil
}

// Classes lists the classes of a school year.
func (c *Client) Classes(ctx context.Context, s *Session, schoolyearID int) ([]model.Class, error) {
	var raw []wireClass
	params := map[string]int{"schoolyearId": schoolyearID}
	if _, err := c.call(ctx, rpcPath, nil, s, "getKlassen", params, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Class, 0, len(raw))
	for i, w := range raw {
		if w.ID == nil || w.Name == nil {
			return nil, missing(fmt.Sprintf("classes[%d]", i), "id/name")
		}
		out = append(out, model.Class{ID: *w.ID, Name: *w.Name, LongName: w.LongName, Active: w.Active})
	}
	return out, nil
}

// Exams returns the exams visible to the session between start and end.
func (c *Client) Exams(ctx context.Context, s *Session, start, end int) ([]model.Exam, error) {
	q := url.Values{
		"startDate":  {strconv.Itoa(start)},
		"endDate":    {strconv.Itoa(end)},
		"klasseId":   {"-1"},
		"withGrades": {"true"},
	}
	var data struct {
		Exams *[]wireExam `json:"exams"`
	}
	if err := c.get(ctx, "/WebUntis/api/exams", q, s, &data); err != nil {
		return nil, err
	}
	if data.Exams == nil {
		return nil, missing("exams", "exams")
	}

	out := make([]model.Exam, 0, len(*data.Exams))
	for i, w := range *data.Exams {
		e, err := w.toModel(fmt.Sprintf("exams[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Homework returns the homework overview between start and end.
func (c *Client) Homework(ctx context.Context, s *Session, start, end int) (model.HomeworkSet, error) {
	q := url.Values{
		"startDate": {strconv.Itoa(start)},
		"endDate":   {strconv.Itoa(end)},
	}
	var w wireHomeworkSet
	if err := c.get(ctx, "/WebUntis/api/homeworks/lessons", q, s, &w); err != nil {
		return model.HomeworkSet{}, err
	}
	return w.toModel()
}
