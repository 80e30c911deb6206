package model

import "time"

// Element is the provider's short reference to a class, teacher, subject or
// room attached to a lesson.
type Element struct {
	ID       int
	Name     string
	LongName string
	// OrgName is the original name when the element was substituted.
	OrgName string
}

// Lesson is one timetable period as reported by the provider. Date is
// YYYYMMDD, StartTime/EndTime are HHMM, all in the school's civil time.
type Lesson struct {
	ID        int
	Date      int
	StartTime int
	EndTime   int

	Classes  []Element
	Teachers []Element
	Subjects []Element
	Rooms    []Element

	LsText       string
	LsNumber     int
	ActivityType string
	// Code is "cancelled", "irregular" or empty.
	Code         string
	Info         string
	SubstText    string
	StatFlags    string
	StudentGroup string
	BgRemark     string
}

const CodeCancelled = "cancelled"

type Exam struct {
	ID             int
	Name           string
	ExamType       string
	Subject        string
	Teachers       []string
	Rooms          []string
	StudentClasses []string
	Location       string
	Grade          string
	Text           string

	Date      int
	StartTime int
	EndTime   int
}

type Homework struct {
	ID          int
	LessonID    int
	Date        int
	DueDate     int
	Text        string
	Remark      string
	Completed   bool
	Attachments []string
}

// HomeworkLesson is only used to correlate homework with timetable lessons;
// Subject has the form "<long name> (<short name>)".
type HomeworkLesson struct {
	ID         int
	Subject    string
	LessonType string
}

type HomeworkRecord struct {
	HomeworkID int
	TeacherID  int
	ElementIDs []int
}

type Teacher struct {
	ID   int
	Name string
}

// HomeworkSet is the provider's homework response for a date range.
type HomeworkSet struct {
	Records   []HomeworkRecord
	Homeworks []Homework
	Teachers  []Teacher
	Lessons   []HomeworkLesson
}

type Schoolyear struct {
	ID        int
	Name      string
	StartDate int
	EndDate   int
}

type Class struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"long_name"`
	Active   bool   `json:"active"`
}

// LessonWithHomework is a lesson plus the homework assigned on its date
// (HomeworkStart) and due on its date (HomeworkEnd).
type LessonWithHomework struct {
	Lesson        Lesson
	HomeworkStart []Homework
	HomeworkEnd   []Homework
}

type BusyStatus string

const (
	BusyStatusBusy BusyStatus = "BUSY"
	BusyStatusFree BusyStatus = "FREE"
)

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

type Transparency string

const (
	TransparencyOpaque      Transparency = "OPAQUE"
	TransparencyTransparent Transparency = "TRANSPARENT"
)

// CalendarEvent is one output VEVENT. It is derived per request and never
// stored.
type CalendarEvent struct {
	UID string

	Start time.Time
	End   time.Time

	Summary     string
	Description string
	Location    string

	BusyStatus   BusyStatus
	Status       Status
	Transparency Transparency

	Attachments []string
}
