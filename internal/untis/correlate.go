package untis

import (
	"untiscal/internal/model"
)

// Correlate attaches homework to lessons. Homework matches a lesson when its
// homework lesson carries the lesson's first subject as "<long> (<short>)"
// and it was assigned or is due on the lesson's date.
//
// Matching is by subject display name, so two subjects that share a display
// name also share homework.
func Correlate(lessons []model.Lesson, set model.HomeworkSet) []model.LessonWithHomework {
	subjectByLesson := make(map[int]string, len(set.Lessons))
	for _, l := range set.Lessons {
		if _, dup := subjectByLesson[l.ID]; !dup {
			subjectByLesson[l.ID] = l.Subject
		}
	}

	out := make([]model.LessonWithHomework, 0, len(lessons))
	for _, lesson := range lessons {
		lw := model.LessonWithHomework{Lesson: lesson}
		if len(lesson.Subjects) > 0 {
			subject := lesson.Subjects[0].LongName + " (" + lesson.Subjects[0].Name + ")"
			for _, hw := range set.Homeworks {
				s, ok := subjectByLesson[hw.LessonID]
				if !ok || s != subject {
					continue
				}
				if hw.Date == lesson.Date {
					lw.HomeworkStart = append(lw.HomeworkStart, hw)
				}
				if hw.DueDate == lesson.Date {
					lw.HomeworkEnd = append(lw.HomeworkEnd, hw)
				}
			}
		}
		out = append(out, lw)
	}
	return out
}
