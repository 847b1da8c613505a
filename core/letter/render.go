// Package letter turns a letter template and the data of a complaint into the notification letter
// sent to a student's parents.
package letter

import (
	"fmt"
	"strings"
	"time"
)

// Placeholder tokens recognized in template bodies.
const (
	TokenStudentName        = "[STUDENT_NAME]"
	TokenStudentID          = "[STUDENT_ID]"
	TokenClass              = "[CLASS]"
	TokenParentContact      = "[PARENT_CONTACT]"
	TokenTeacherName        = "[TEACHER_NAME]"
	TokenTeacherID          = "[TEACHER_ID]"
	TokenReportDate         = "[REPORT_DATE]"
	TokenProblemDescription = "[PROBLEM_DESCRIPTION]"
	TokenFollowUpNotes      = "[FOLLOWUP_NOTES]"
	TokenLetterNumber       = "[LETTER_NUMBER]"
	TokenLetterDate         = "[LETTER_DATE]"
	TokenTodayDate          = "[TODAY_DATE]"
	TokenYear               = "[YEAR]"
)

var months = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

type (
	Student struct {
		Name          string
		NISN          string
		Class         string
		ParentContact string
	}

	Teacher struct {
		Name string
		NIP  string
	}

	// Context is everything a letter may print about a complaint and its follow-up.
	Context struct {
		Student       Student
		Teacher       Teacher
		ReportedAt    time.Time
		Description   string
		FollowUpNotes string
		LetterNumber  string
		LetterDate    time.Time
		Today         time.Time
	}
)

// FormatDate formats t the long Indonesian way, eg. "15 Januari 2025".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), months[t.Month()-1], t.Year())
}

// Render substitutes every recognized token of tmpl with data. Unknown bracketed sequences are left as is
// and substituted values are never expanded again.
func Render(tmpl string, data Context) string {
	return strings.NewReplacer(
		TokenStudentName, data.Student.Name,
		TokenStudentID, data.Student.NISN,
		TokenClass, data.Student.Class,
		TokenParentContact, data.Student.ParentContact,
		TokenTeacherName, data.Teacher.Name,
		TokenTeacherID, data.Teacher.NIP,
		TokenReportDate, FormatDate(data.ReportedAt),
		TokenProblemDescription, data.Description,
		TokenFollowUpNotes, data.FollowUpNotes,
		TokenLetterNumber, data.LetterNumber,
		TokenLetterDate, FormatDate(data.LetterDate),
		TokenTodayDate, FormatDate(data.Today),
		TokenYear, fmt.Sprint(data.Today.Year()),
	).Replace(tmpl)
}
