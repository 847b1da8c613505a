package complaint

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
)

// Case statuses, as stored.
const (
	StatusSubmitted = "Menunggu"
	StatusApproved  = "Disetujui"
	StatusRejected  = "Ditolak"
)

type Student struct {
	ID            int    `json:"id"`
	NISN          string `json:"nisn"`
	Name          string `json:"name"`
	Class         string `json:"class"`
	ParentContact string `json:"parent_contact"`
}

type Teacher struct {
	ID   int    `json:"id"`
	NIP  string `json:"nip"`
	Name string `json:"name"`
}

// Case is a complaint submitted by a teacher about a student.
type Case struct {
	ID          int       `json:"id"`
	ReportedAt  time.Time `json:"reported_at"` // UTC
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Student     Student   `json:"student"`
	Teacher     Teacher   `json:"teacher"`
}

type Template struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// Approval is the follow-up record of an approved Case. At most one exists per Case.
type Approval struct {
	ID           int       `json:"id"`
	ProcessedAt  time.Time `json:"processed_at"` // UTC
	LetterNumber string    `json:"letter_number"`
	Notes        string    `json:"notes"`
	CaseID       int       `json:"case_id"`
	UserID       int       `json:"user_id"`
	TemplateID   int       `json:"template_id"`
}

type ApprovalDetail struct {
	Approval
	Case     Case     `json:"case"`
	Template Template `json:"template"`
}

// DeliveryOutcome tells whether the parent notification of an approval was sent.
type DeliveryOutcome struct {
	Sent   bool        `json:"sent"`
	Error  null.String `json:"error"`
	Phone  string      `json:"phone_number"`
	Queued bool        `json:"queued"`
}

type ApprovalResult struct {
	Approval Approval        `json:"approval"`
	Delivery DeliveryOutcome `json:"whatsapp"`
}

// PendingDelivery is a parent notification waiting to be sent again.
type PendingDelivery struct {
	ApprovalID int       `json:"approval_id"`
	Phone      string    `json:"phone_number"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

type RedeliveryReport struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

type ApproveRequest struct {
	CaseID     int    `json:"case_id" validate:"required"`
	UserID     int    `json:"user_id" validate:"required"`
	TemplateID int    `json:"template_id" validate:"required"`
	Notes      string `json:"notes" validate:"required,notblank"`
}

func (r *ApproveRequest) Validate(validate *validator.Validate) error {
	r.Notes = strings.TrimSpace(r.Notes)
	return validate.Struct(r)
}

// LetterNumber derives the letter number of a case approved at t, eg. 007/SP/3/2025.
func LetterNumber(caseID int, t time.Time) string {
	return fmt.Sprintf("%03d/SP/%d/%d", caseID, int(t.Month()), t.Year())
}

// LetterFilename names the letter document sent to the parents.
// Characters other than letters, digits, dots and dashes are replaced by underscores.
func LetterFilename(studentName, letterNumber string) string {
	return fmt.Sprintf(
		"Surat_Pemberitahuan_%s_%s.pdf",
		filenamePart(studentName),
		filenamePart(strings.ReplaceAll(letterNumber, "/", "-")),
	)
}

func filenamePart(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), "_")
}

// NotificationMessage is the text sent to the parents along with the letter.
func NotificationMessage(studentName, schoolName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Yth. Orang Tua/Wali dari %s\n\n", studentName)
	b.WriteString("Dengan hormat, kami sampaikan surat pemberitahuan terkait pelanggaran yang dilakukan oleh putra/putri Bapak/Ibu.\n\n")
	b.WriteString("Mohon untuk membaca surat terlampir dan memberikan perhatian lebih kepada putra/putri Bapak/Ibu.\n\n")
	b.WriteString("Terima kasih atas perhatian dan kerjasamanya.\n\n")
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "Dear Parent/Guardian of %s,\n\n", studentName)
	b.WriteString("Please find attached a notification letter about a violation committed by your child. ")
	b.WriteString("We kindly ask you to read it and give your child extra attention.\n\n")
	b.WriteString("Thank you for your attention and cooperation.\n\n")
	fmt.Fprintf(&b, "Hormat kami / Sincerely,\n%s", schoolName)
	return b.String()
}
