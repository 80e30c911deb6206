package webuntis

import (
	"encoding/json"
	"fmt"
	"strings"

	"untiscal/internal/model"
)

// Wire structs use pointers for required members so that a missing member can
// be told apart from a zero value.

type wireElement struct {
	ID       *int    `json:"id"`
	Name     *string `json:"name"`
	LongName string  `json:"longname"`
	OrgName  string  `json:"orgname"`
}

func (w wireElement) toModel(path string) (model.Element, error) {
	if w.ID == nil {
		return model.Element{}, missing(path, "id")
	}
	if w.Name == nil {
		return model.Element{}, missing(path, "name")
	}
	return model.Element{ID: *w.ID, Name: *w.Name, LongName: w.LongName, OrgName: w.OrgName}, nil
}

func elements(path string, in []wireElement) ([]model.Element, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]model.Element, 0, len(in))
	for i, w := range in {
		e, err := w.toModel(fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type wireLesson struct {
	ID        *int `json:"id"`
	Date      *int `json:"date"`
	StartTime *int `json:"startTime"`
	EndTime   *int `json:"endTime"`

	Kl []wireElement `json:"kl"`
	Te []wireElement `json:"te"`
	Su []wireElement `json:"su"`
	Ro []wireElement `json:"ro"`

	LsText       string `json:"lstext"`
	LsNumber     int    `json:"lsnumber"`
	ActivityType string `json:"activityType"`
	Code         string `json:"code"`
	Info         string `json:"info"`
	SubstText    string `json:"substText"`
	StatFlags    string `json:"statflags"`
	Sg           string `json:"sg"`
	BgRemark     string `json:"bgRemark"`
}

func (w wireLesson) toModel(path string) (model.Lesson, error) {
	switch {
	case w.ID == nil:
		return model.Lesson{}, missing(path, "id")
	case w.Date == nil:
		return model.Lesson{}, missing(path, "date")
	case w.StartTime == nil:
		return model.Lesson{}, missing(path, "startTime")
	case w.EndTime == nil:
		return model.Lesson{}, missing(path, "endTime")
	}
	switch w.Code {
	case "", model.CodeCancelled, "irregular":
	default:
		return model.Lesson{}, fmt.Errorf("%w: %s.code: unexpected value %q", ErrSchema, path, w.Code)
	}

	l := model.Lesson{
		ID:           *w.ID,
		Date:         *w.Date,
		StartTime:    *w.StartTime,
		EndTime:      *w.EndTime,
		LsText:       w.LsText,
		LsNumber:     w.LsNumber,
		ActivityType: w.ActivityType,
		Code:         w.Code,
		Info:         w.Info,
		SubstText:    w.SubstText,
		StatFlags:    w.StatFlags,
		StudentGroup: w.Sg,
		BgRemark:     w.BgRemark,
	}
	var err error
	if l.Classes, err = elements(path+".kl", w.Kl); err != nil {
		return model.Lesson{}, err
	}
	if l.Teachers, err = elements(path+".te", w.Te); err != nil {
		return model.Lesson{}, err
	}
	if l.Subjects, err = elements(path+".su", w.Su); err != nil {
		return model.Lesson{}, err
	}
	if l.Rooms, err = elements(path+".ro", w.Ro); err != nil {
		return model.Lesson{}, err
	}
	return l, nil
}

type wireExam struct {
	ID             *int     `json:"id"`
	ExamType       string   `json:"examType"`
	Name           string   `json:"name"`
	StudentClasses []string `json:"studentClass"`
	ExamDate       *int     `json:"examDate"`
	StartTime      *int     `json:"startTime"`
	EndTime        *int     `json:"endTime"`
	Subject        string   `json:"subject"`
	Teachers       []string `json:"teachers"`
	Rooms          []string `json:"rooms"`
	Text           string   `json:"text"`
	Grade          string   `json:"grade"`
	Location       string   `json:"location"`
}

func (w wireExam) toModel(path string) (model.Exam, error) {
	switch {
	case w.ID == nil:
		return model.Exam{}, missing(path, "id")
	case w.ExamDate == nil:
		return model.Exam{}, missing(path, "examDate")
	case w.StartTime == nil:
		return model.Exam{}, missing(path, "startTime")
	case w.EndTime == nil:
		return model.Exam{}, missing(path, "endTime")
	}
	return model.Exam{
		ID:             *w.ID,
		Name:           w.Name,
		ExamType:       w.ExamType,
		Subject:        w.Subject,
		Teachers:       w.Teachers,
		Rooms:          w.Rooms,
		StudentClasses: w.StudentClasses,
		Location:       w.Location,
		Grade:          w.Grade,
		Text:           w.Text,
		Date:           *w.ExamDate,
		StartTime:      *w.StartTime,
		EndTime:        *w.EndTime,
	}, nil
}

type wireHomework struct {
	ID          *int              `json:"id"`
	LessonID    *int              `json:"lessonId"`
	Date        *int              `json:"date"`
	DueDate     *int              `json:"dueDate"`
	Text        *string           `json:"text"`
	Remark      *string           `json:"remark"`
	Completed   *bool             `json:"completed"`
	Attachments []json.RawMessage `json:"attachments"`
}

func (w wireHomework) toModel(path string) (model.Homework, error) {
	switch {
	case w.ID == nil:
		return model.Homework{}, missing(path, "id")
	case w.LessonID == nil:
		return model.Homework{}, missing(path, "lessonId")
	case w.Date == nil:
		return model.Homework{}, missing(path, "date")
	case w.DueDate == nil:
		return model.Homework{}, missing(path, "dueDate")
	case w.Text == nil:
		return model.Homework{}, missing(path, "text")
	case w.Remark == nil:
		return model.Homework{}, missing(path, "remark")
	case w.Completed == nil:
		return model.Homework{}, missing(path, "completed")
	case w.Attachments == nil:
		return model.Homework{}, missing(path, "attachments")
	}
	return model.Homework{
		ID:          *w.ID,
		LessonID:    *w.LessonID,
		Date:        *w.Date,
		DueDate:     *w.DueDate,
		Text:        *w.Text,
		Remark:      *w.Remark,
		Completed:   *w.Completed,
		Attachments: attachmentURLs(w.Attachments),
	}, nil
}

// attachmentURLs keeps the attachments that can be turned into a URL: plain
// strings and objects with a "url" member. Anything else is skipped.
func attachmentURLs(raw []json.RawMessage) []string {
	var out []string
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(r, &obj); err == nil && obj.URL != "" {
			out = append(out, obj.URL)
		}
	}
	return out
}

type wireHomeworkSet struct {
	Records *[]struct {
		HomeworkID *int  `json:"homeworkId"`
		TeacherID  *int  `json:"teacherId"`
		ElementIDs []int `json:"elementIds"`
	} `json:"records"`
	Homeworks *[]wireHomework `json:"homeworks"`
	Teachers  *[]struct {
		ID   *int    `json:"id"`
		Name *string `json:"name"`
	} `json:"teachers"`
	Lessons *[]struct {
		ID         *int    `json:"id"`
		Subject    *string `json:"subject"`
		LessonType string  `json:"lessonType"`
	} `json:"lessons"`
}

func (w wireHomeworkSet) toModel() (model.HomeworkSet, error) {
	switch {
	case w.Records == nil:
		return model.HomeworkSet{}, missing("homework", "records")
	case w.Homeworks == nil:
		return model.HomeworkSet{}, missing("homework", "homeworks")
	case w.Teachers == nil:
		return model.HomeworkSet{}, missing("homework", "teachers")
	case w.Lessons == nil:
		return model.HomeworkSet{}, missing("homework", "lessons")
	}

	var set model.HomeworkSet
	for i, r := range *w.Records {
		if r.HomeworkID == nil || r.TeacherID == nil {
			return model.HomeworkSet{}, missing(fmt.Sprintf("records[%d]", i), "homeworkId/teacherId")
		}
		set.Records = append(set.Records, model.HomeworkRecord{HomeworkID: *r.HomeworkID, TeacherID: *r.TeacherID, ElementIDs: r.ElementIDs})
	}
	for i, h := range *w.Homeworks {
		hw, err := h.toModel(fmt.Sprintf("homeworks[%d]", i))
		if err != nil {
			return model.HomeworkSet{}, err
		}
		set.Homeworks = append(set.Homeworks, hw)
	}
	for i, t := range *w.Teachers {
		if t.ID == nil || t.Name == nil {
			return model.HomeworkSet{}, missing(fmt.Sprintf("teachers[%d]", i), "id/name")
		}
		set.Teachers = append(set.Teachers, model.Teacher{ID: *t.ID, Name: *t.Name})
	}
	for i, l := range *w.Lessons {
		if l.ID == nil || l.Subject == nil {
			return model.HomeworkSet{}, missing(fmt.Sprintf("lessons[%d]", i), "id/subject")
		}
		set.Lessons = append(set.Lessons, model.HomeworkLesson{ID: *l.ID, Subject: *l.Subject, LessonType: l.LessonType})
	}
	return set, nil
}

type wireSchoolyear struct {
	ID        *int    `json:"id"`
	Name      *string `json:"name"`
	StartDate int     `json:"startDate"`
	EndDate   int     `json:"endDate"`
}

type wireClass struct {
	ID       *int    `json:"id"`
	Name     *string `json:"name"`
	LongName string  `json:"longName"`
	Active   bool    `json:"active"`
}

func missing(path, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrSchema, path, field)
}
