// Package cal turns lessons and exams into calendar events and renders them
// as an iCalendar document.
package cal

import (
	"fmt"
	"strings"

	"untiscal/internal/civil"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// infoMark prefixes the summary of lessons that carry a note or homework.
const infoMark = "ℹ️ "

const noExamTitle = "No exam title found"

// LessonEvents builds one event per lesson. Lessons whose start or end cannot
// be placed in tz are left out.
func LessonEvents(lessons []model.LessonWithHomework, tz string) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(lessons))
	for _, l := range lessons {
		ev, err := LessonEvent(l, tz)
		if err != nil {
			appLog.Debug("dropping lesson", "lesson", l.Lesson.ID, "date", l.Lesson.Date, "error", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ExamEvents builds one event per exam, leaving out exams whose times cannot
// be placed in tz.
func ExamEvents(exams []model.Exam, tz string) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(exams))
	for _, e := range exams {
		ev, err := ExamEvent(e, tz)
		if err != nil {
			appLog.Debug("dropping exam", "exam", e.ID, "date", e.Date, "error", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out
}

func LessonEvent(lw model.LessonWithHomework, tz string) (model.CalendarEvent, error) {
	l := lw.Lesson
	start, err := civil.FromProviderDateTime(l.Date, l.StartTime, tz)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	end, err := civil.FromProviderDateTime(l.Date, l.EndTime, tz)
	if err != nil {
		return model.CalendarEvent{}, err
	}

	ev := model.CalendarEvent{
		UID:         fmt.Sprintf("lesson-%d-%d@untiscal", l.ID, l.Date),
		Start:       start,
		End:         end,
		Summary:     lessonSummary(lw),
		Description: lessonDescription(lw),
		Location:    lessonLocation(l.Rooms),
	}

	if l.Code == model.CodeCancelled {
		ev.Status = model.StatusCancelled
		ev.BusyStatus = model.BusyStatusFree
		ev.Transparency = model.TransparencyTransparent
	} else {
		ev.Status = model.StatusConfirmed
		ev.BusyStatus = model.BusyStatusBusy
		ev.Transparency = model.TransparencyOpaque
	}

	for _, hw := range lw.HomeworkStart {
		ev.Attachments = append(ev.Attachments, hw.Attachments...)
	}
	for _, hw := range lw.HomeworkEnd {
		ev.Attachments = append(ev.Attachments, hw.Attachments...)
	}
	return ev, nil
}

func lessonSummary(lw model.LessonWithHomework) string {
	l := lw.Lesson
	summary := joinNames(l.Subjects, func(e model.Element) string { return e.Name })
	if summary == "" {
		summary = l.LsText
	}
	if l.Info != "" || len(lw.HomeworkStart) > 0 || len(lw.HomeworkEnd) > 0 {
		summary = infoMark + summary
	}
	return summary
}

func lessonDescription(lw model.LessonWithHomework) string {
	l := lw.Lesson
	parts := []string{
		joinNames(l.Subjects, func(e model.Element) string { return e.LongName }),
		joinNames(l.Classes, func(e model.Element) string { return e.Name }),
		l.ActivityType,
		l.Info,
		l.SubstText,
	}
	if len(lw.HomeworkEnd) > 0 {
		parts = append(parts, "Homework to this lesson:")
		for _, hw := range lw.HomeworkEnd {
			parts = append(parts, homeworkLine(hw))
		}
	}
	if len(lw.HomeworkStart) > 0 {
		parts = append(parts, "Homework from this lesson:")
		for _, hw := range lw.HomeworkStart {
			parts = append(parts, homeworkLine(hw))
		}
	}
	return joinNonEmpty(parts, "\n")
}

func homeworkLine(hw model.Homework) string {
	mark := "-"
	if hw.Completed {
		mark = "✅"
	}
	if hw.Remark == "" {
		return mark + " " + hw.Text
	}
	return mark + " " + hw.Text + " - " + hw.Remark
}

func lessonLocation(rooms []model.Element) string {
	parts := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.OrgName != "" {
			parts = append(parts, fmt.Sprintf("%s - %s (%s)", r.LongName, r.Name, r.OrgName))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s - %s", r.LongName, r.Name))
	}
	return strings.Join(parts, ", ")
}

func ExamEvent(e model.Exam, tz string) (model.CalendarEvent, error) {
	start, err := civil.FromProviderDateTime(e.Date, e.StartTime, tz)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	end, err := civil.FromProviderDateTime(e.Date, e.EndTime, tz)
	if err != nil {
		return model.CalendarEvent{}, err
	}

	summary := noExamTitle
	if e.Name != "" {
		summary = e.Name + " (Exam)"
	}

	grade := ""
	if e.Grade != "" {
		grade = "Grade: " + e.Grade
	}

	return model.CalendarEvent{
		UID:     fmt.Sprintf("exam-%d@untiscal", e.ID),
		Start:   start,
		End:     end,
		Summary: summary,
		Description: joinNonEmpty([]string{
			e.ExamType,
			e.Subject,
			strings.Join(e.Teachers, ", "),
			grade,
			e.Text,
		}, "\n"),
		Location:     joinNonEmpty(append([]string{e.Location}, e.Rooms...), ", "),
		Status:       model.StatusConfirmed,
		BusyStatus:   model.BusyStatusBusy,
		Transparency: model.TransparencyOpaque,
	}, nil
}

func joinNames(elems []model.Element, name func(model.Element) string) string {
	names := make([]string, 0, len(elems))
	for _, e := range elems {
		names = append(names, name(e))
	}
	return joinNonEmpty(names, ", ")
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
