package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
)

const pqUniqueViolation = "23505"

type (
	caseRow struct {
		ID            int       `db:"id"`
		ReportedAt    time.Time `db:"reported_at"`
		Description   string    `db:"description"`
		Status        string    `db:"status"`
		StudentID     int       `db:"student_id"`
		NISN          string    `db:"nisn"`
		StudentName   string    `db:"student_name"`
		Class         string    `db:"class"`
		ParentContact string    `db:"parent_contact"`
		TeacherID     int       `db:"teacher_id"`
		NIP           string    `db:"nip"`
		TeacherName   string    `db:"teacher_name"`
	}

	templateRow struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
		Body string `db:"body"`
	}

	approvalRow struct {
		ID           int       `db:"id"`
		ProcessedAt  time.Time `db:"processed_at"`
		LetterNumber string    `db:"letter_number"`
		Notes        string    `db:"notes"`
		CaseID       int       `db:"complaint_id"`
		UserID       int       `db:"user_id"`
		TemplateID   int       `db:"template_id"`
	}

	approvalDetailRow struct {
		approvalRow
		caseRow      `db:"c"`
		TemplateName null.String `db:"template_name"`
		TemplateBody null.String `db:"template_body"`
	}

	deliveryRow struct {
		ApprovalID int         `db:"approval_id"`
		Phone      string      `db:"phone"`
		Reason     null.String `db:"reason"`
		Attempts   int         `db:"attempts"`
		CreatedAt  time.Time   `db:"created_at"`
		UpdatedAt  time.Time   `db:"updated_at"`
	}
)

func (r caseRow) toCase() complaint.Case {
	return complaint.Case{
		ID:          r.ID,
		ReportedAt:  r.ReportedAt.UTC(),
		Description: r.Description,
		Status:      r.Status,
		Student: complaint.Student{
			ID:            r.StudentID,
			NISN:          r.NISN,
			Name:          r.StudentName,
			Class:         r.Class,
			ParentContact: r.ParentContact,
		},
		Teacher: complaint.Teacher{ID: r.TeacherID, NIP: r.NIP, Name: r.TeacherName},
	}
}

func (r approvalRow) toApproval() complaint.Approval {
	return complaint.Approval{
		ID:           r.ID,
		ProcessedAt:  r.ProcessedAt.UTC(),
		LetterNumber: r.LetterNumber,
		Notes:        r.Notes,
		CaseID:       r.CaseID,
		UserID:       r.UserID,
		TemplateID:   r.TemplateID,
	}
}

func (r approvalDetailRow) toDetail() complaint.ApprovalDetail {
	return complaint.ApprovalDetail{
		Approval: r.approvalRow.toApproval(),
		Case:     r.caseRow.toCase(),
		Template: complaint.Template{ID: r.TemplateID, Name: r.TemplateName.String, Body: r.TemplateBody.String},
	}
}

func (r deliveryRow) toDelivery() complaint.PendingDelivery {
	return complaint.PendingDelivery{
		ApprovalID: r.ApprovalID,
		Phone:      r.Phone,
		Reason:     r.Reason.String,
		Attempts:   r.Attempts,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

const (
	caseSelect = `
SELECT c.id, c.reported_at, c.description, c.status,
       s.id AS student_id, s.nisn, s.name AS student_name, s.class, s.parent_contact,
       t.id AS teacher_id, t.nip, t.name AS teacher_name
FROM complaints c
    JOIN students s ON s.id = c.student_id
    JOIN teachers t ON t.id = c.teacher_id`

	approvalDetailSelect = `
SELECT a.id, a.processed_at, a.letter_number, a.notes, a.complaint_id, a.user_id, a.template_id,
       c.id AS "c.id", c.reported_at AS "c.reported_at", c.description AS "c.description", c.status AS "c.status",
       s.id AS "c.student_id", s.nisn AS "c.nisn", s.name AS "c.student_name", s.class AS "c.class",
       s.parent_contact AS "c.parent_contact",
       t.id AS "c.teacher_id", t.nip AS "c.nip", t.name AS "c.teacher_name",
       lt.name AS template_name, lt.body AS template_body
FROM approvals a
    JOIN complaints c ON c.id = a.complaint_id
    JOIN students s ON s.id = c.student_id
    JOIN teachers t ON t.id = c.teacher_id
    LEFT JOIN letter_templates lt ON lt.id = a.template_id`
)

type complaintRepository struct {
	db core.DB
}

var _ complaint.Repository = (*complaintRepository)(nil) // interface compliance check

func NewComplaintRepository(db core.DB) *complaintRepository {
	return &complaintRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func (repo complaintRepository) GetCase(ctx context.Context, id int) (complaint.Case, error) {
	var row caseRow
	if err := repo.db.GetContext(ctx, &row, caseSelect+` WHERE c.id = $1`, id); err != nil {
		return complaint.Case{}, trapNoRowsErr(err, complaint.ErrCaseNotFound, "getting case")
	}
	return row.toCase(), nil
}

func (repo complaintRepository) CaseHasApproval(ctx context.Context, caseID int) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM approvals WHERE complaint_id = $1)`, caseID)
	if err != nil {
		return false, errors.Wrap(err, "checking case approval")
	}
	return exists, nil
}

func (repo complaintRepository) GetTemplate(ctx context.Context, id int) (complaint.Template, error) {
	var row templateRow
	if err := repo.db.GetContext(ctx, &row, `SELECT id, name, body FROM letter_templates WHERE id = $1`, id); err != nil {
		return complaint.Template{}, trapNoRowsErr(err, complaint.ErrTemplateNotFound, "getting template")
	}
	return complaint.Template(row), nil
}

func (repo complaintRepository) QueryTemplates(ctx context.Context) ([]complaint.Template, error) {
	var rows []templateRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT id, name, body FROM letter_templates ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	templates := make([]complaint.Template, 0, len(rows))
	for _, r := range rows {
		templates = append(templates, complaint.Template(r))
	}
	return templates, nil
}

func (repo complaintRepository) ApproveCase(ctx context.Context, apv complaint.Approval) (_ complaint.Approval, err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return complaint.Approval{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row approvalRow
	err = tx.GetContext(ctx, &row, `
INSERT INTO approvals (processed_at, letter_number, notes, complaint_id, user_id, template_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, processed_at, letter_number, notes, complaint_id, user_id, template_id`,
		apv.ProcessedAt, apv.LetterNumber, apv.Notes, apv.CaseID, apv.UserID, apv.TemplateID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return complaint.Approval{}, complaint.ErrAlreadyProcessed
		}
		return complaint.Approval{}, errors.Wrap(err, "inserting approval")
	}

	res, err := tx.ExecContext(ctx, `UPDATE complaints SET status = $1 WHERE id = $2`, complaint.StatusApproved, apv.CaseID)
	if err != nil {
		return complaint.Approval{}, errors.Wrap(err, "updating case status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return complaint.Approval{}, complaint.ErrCaseNotFound
	}

	if err = tx.Commit(); err != nil {
		return complaint.Approval{}, errors.Wrap(err, "committing approval")
	}
	return row.toApproval(), nil
}

func (repo complaintRepository) GetApproval(ctx context.Context, id int) (complaint.ApprovalDetail, error) {
	var row approvalDetailRow
	if err := repo.db.GetContext(ctx, &row, approvalDetailSelect+` WHERE a.id = $1`, id); err != nil {
		return complaint.ApprovalDetail{}, trapNoRowsErr(err, complaint.ErrApprovalNotFound, "getting approval")
	}
	return row.toDetail(), nil
}

func (repo complaintRepository) QueryApprovals(ctx context.Context) ([]complaint.ApprovalDetail, error) {
	var rows []approvalDetailRow
	if err := repo.db.SelectContext(ctx, &rows, approvalDetailSelect+` ORDER BY a.processed_at DESC, a.id DESC`); err != nil {
		return nil, errors.Wrap(err, "querying approvals")
	}
	details := make([]complaint.ApprovalDetail, 0, len(rows))
	for _, r := range rows {
		details = append(details, r.toDetail())
	}
	return details, nil
}

func (repo complaintRepository) SavePendingDelivery(ctx context.Context, pd complaint.PendingDelivery) error {
	_, err := repo.db.ExecContext(ctx, `
INSERT INTO pending_deliveries (approval_id, phone, reason, attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (approval_id) DO UPDATE
    SET phone = EXCLUDED.phone, reason = EXCLUDED.reason, attempts = EXCLUDED.attempts, updated_at = EXCLUDED.updated_at`,
		pd.ApprovalID, pd.Phone, null.NewString(pd.Reason, pd.Reason != ""), pd.Attempts, pd.CreatedAt, pd.UpdatedAt,
	)
	return errors.Wrap(err, "saving pending delivery")
}

func (repo complaintRepository) QueryPendingDeliveries(ctx context.Context, limit int) ([]complaint.PendingDelivery, error) {
	q := `SELECT approval_id, phone, reason, attempts, created_at, updated_at FROM pending_deliveries ORDER BY updated_at, approval_id`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []deliveryRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying pending deliveries")
	}
	pending := make([]complaint.PendingDelivery, 0, len(rows))
	for _, r := range rows {
		pending = append(pending, r.toDelivery())
	}
	return pending, nil
}

func (repo complaintRepository) DeletePendingDelivery(ctx context.Context, approvalID int) error {
	_, err := repo.db.ExecContext(ctx, `DELETE FROM pending_deliveries WHERE approval_id = $1`, approvalID)
	return errors.Wrap(err, "deleting pending delivery")
}
