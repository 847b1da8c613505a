// Package complaint approves complaint cases and notifies the parents of the student concerned.
package complaint

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/letter"
	"github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/core/phone"
)

var (
	// errors
	ErrCaseNotFound      = errors.New("case not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrApprovalNotFound  = errors.New("approval not found")
	ErrAlreadyProcessed  = errors.New("case already processed")
	ErrMessengerNotReady = errors.New("WhatsApp not connected, scan the QR code in the WhatsApp settings")
)

type (
	Repository interface {
		GetCase(ctx context.Context, id int) (Case, error)
		CaseHasApproval(ctx context.Context, caseID int) (bool, error)
		GetTemplate(ctx context.Context, id int) (Template, error)
		QueryTemplates(ctx context.Context) ([]Template, error)
		// ApproveCase stores apv and flips its case to StatusApproved, atomically.
		// It returns ErrAlreadyProcessed when the case already has an approval.
		ApproveCase(ctx context.Context, apv Approval) (Approval, error)
		GetApproval(ctx context.Context, id int) (ApprovalDetail, error)
		// QueryApprovals returns every approval, newest first.
		QueryApprovals(ctx context.Context) ([]ApprovalDetail, error)
		// SavePendingDelivery inserts pd or replaces the one of the same approval.
		SavePendingDelivery(ctx context.Context, pd PendingDelivery) error
		// QueryPendingDeliveries returns up to limit deliveries, least recently tried first.
		QueryPendingDeliveries(ctx context.Context, limit int) ([]PendingDelivery, error)
		DeletePendingDelivery(ctx context.Context, approvalID int) error
	}

	// Composer lays out the letter of an approval.
	Composer interface {
		Compose(tmpl string, data letter.Context) ([]byte, error)
	}

	// Messenger delivers notifications over the messaging session.
	Messenger interface {
		IsReady() bool
		SendMessage(ctx context.Context, phoneNumber, text string, att *messaging.Attachment) error
	}

	Service struct {
		repo      Repository
		composer  Composer
		messenger Messenger
		mailSvc   core.EmailService
		validate  *validator.Validate
		logger    core.Logger
		school    core.SchoolConfig
		redeliv   core.RedeliveryConfig

		now func() time.Time
	}
)

var _ Composer = (*letter.Composer)(nil)

func NewService(
	repo Repository,
	messenger Messenger,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:      repo,
		composer:  letter.NewComposer(conf.School),
		messenger: messenger,
		mailSvc:   mailSvc,
		validate:  validate,
		logger:    logger,
		school:    conf.School,
		redeliv:   conf.Redelivery,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Approve approves a case and tries to notify the parents with the generated letter.
// Once the approval is stored, failures to generate or deliver the letter are reported in the DeliveryOutcome
// and do not fail the approval.
func (svc *Service) Approve(ctx context.Context, req ApproveRequest) (ApprovalResult, error) {
	if err := req.Validate(svc.validate); err != nil {
		return ApprovalResult{}, err
	}

	cs, err := svc.repo.GetCase(ctx, req.CaseID)
	if err != nil {
		return ApprovalResult{}, err
	}
	exists, err := svc.repo.CaseHasApproval(ctx, cs.ID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if exists {
		return ApprovalResult{}, ErrAlreadyProcessed
	}
	tmpl, err := svc.repo.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return ApprovalResult{}, err
	}

	now := svc.now()
	apv, err := svc.repo.ApproveCase(ctx, Approval{
		ProcessedAt:  now,
		LetterNumber: LetterNumber(cs.ID, now),
		Notes:        req.Notes,
		CaseID:       cs.ID,
		UserID:       req.UserID,
		TemplateID:   tmpl.ID,
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	cs.Status = StatusApproved

	return ApprovalResult{
		Approval: apv,
		Delivery: svc.deliver(ctx, ApprovalDetail{Approval: apv, Case: cs, Template: tmpl}),
	}, nil
}

func (svc *Service) deliver(ctx context.Context, detail ApprovalDetail) DeliveryOutcome {
	out := DeliveryOutcome{Phone: phone.Normalize(detail.Case.Student.ParentContact)}

	filename, doc, err := svc.compose(detail)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("generating letter %s", detail.LetterNumber), err)
		return svc.failDelivery(ctx, detail, out, err, true)
	}
	svc.archive(detail, filename, doc)

	if !svc.messenger.IsReady() {
		svc.logger.Warn(fmt.Sprintf("messenger not ready, letter %s not sent", detail.LetterNumber))
		return svc.failDelivery(ctx, detail, out, ErrMessengerNotReady, true)
	}
	if err = svc.send(ctx, detail, filename, doc); err != nil {
		svc.logger.Warn(fmt.Sprintf("sending letter %s", detail.LetterNumber), err)
		return svc.failDelivery(ctx, detail, out, err, !isPermanent(err))
	}

	out.Sent = true
	return out
}

func (svc *Service) failDelivery(ctx context.Context, detail ApprovalDetail, out DeliveryOutcome, cause error, retry bool) DeliveryOutcome {
	out.Error = null.StringFrom(cause.Error())
	if !retry {
		return out
	}

	now := svc.now()
	pd := PendingDelivery{
		ApprovalID: detail.ID,
		Phone:      out.Phone,
		Reason:     cause.Error(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := svc.repo.SavePendingDelivery(ctx, pd); err != nil {
		svc.logger.Error(fmt.Sprintf("queueing delivery of letter %s", detail.LetterNumber), err)
		return out
	}
	out.Queued = true
	return out
}

func (svc *Service) compose(detail ApprovalDetail) (string, []byte, error) {
	cs := detail.Case
	data := letter.Context{
		Student: letter.Student{
			Name:          cs.Student.Name,
			NISN:          cs.Student.NISN,
			Class:         cs.Student.Class,
			ParentContact: cs.Student.ParentContact,
		},
		Teacher:       letter.Teacher{Name: cs.Teacher.Name, NIP: cs.Teacher.NIP},
		ReportedAt:    cs.ReportedAt,
		Description:   cs.Description,
		FollowUpNotes: detail.Notes,
		LetterNumber:  detail.LetterNumber,
		LetterDate:    detail.ProcessedAt,
		Today:         svc.now(),
	}
	doc, err := svc.composer.Compose(detail.Template.Body, data)
	if err != nil {
		return "", nil, errors.Wrap(err, "generating letter")
	}
	return LetterFilename(cs.Student.Name, detail.LetterNumber), doc, nil
}

func (svc *Service) send(ctx context.Context, detail ApprovalDetail, filename string, doc []byte) error {
	return svc.messenger.SendMessage(
		ctx,
		detail.Case.Student.ParentContact,
		NotificationMessage(detail.Case.Student.Name, svc.school.Name),
		&messaging.Attachment{Data: doc, Filename: filename},
	)
}

// archive mails a copy of the letter to the school archive mailbox, when there is one.
func (svc *Service) archive(detail ApprovalDetail, filename string, doc []byte) {
	if svc.school.ArchiveEmail == "" || svc.mailSvc == nil {
		return
	}
	to, err := mail.ParseAddress(svc.school.ArchiveEmail)
	if err != nil {
		svc.logger.Error("invalid archive email", err)
		return
	}

	msg := &core.EmailMessage{
		To:      []mail.Address{*to},
		Subject: fmt.Sprintf("Surat %s - %s", detail.LetterNumber, detail.Case.Student.Name),
		Body: fmt.Sprintf(
			"Surat pemberitahuan %s untuk orang tua/wali %s (%s) terlampir.",
			detail.LetterNumber, detail.Case.Student.Name, detail.Case.Student.Class,
		),
		Attachments: []core.Attachment{{Content: doc, ContentType: "application/pdf", Filename: filename}},
	}
	svc.mailSvc.SendMessages(msg)
}

func isPermanent(err error) bool {
	var nre *messaging.NotRegisteredError
	return errors.As(err, &nre)
}

func (svc *Service) Templates(ctx context.Context) ([]Template, error) {
	return svc.repo.QueryTemplates(ctx)
}

func (svc *Service) Approvals(ctx context.Context) ([]ApprovalDetail, error) {
	return svc.repo.QueryApprovals(ctx)
}

// Letter generates the letter of an existing approval again.
func (svc *Service) Letter(ctx context.Context, approvalID int) (filename string, doc []byte, err error) {
	detail, err := svc.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return "", nil, err
	}
	return svc.compose(detail)
}

// Redeliver retries a batch of pending deliveries. It does nothing while the messenger is not ready.
// Deliveries that fail permanently or run out of attempts are dropped.
func (svc *Service) Redeliver(ctx context.Context) (RedeliveryReport, error) {
	var report RedeliveryReport
	if !svc.messenger.IsReady() {
		return report, nil
	}

	pending, err := svc.repo.QueryPendingDeliveries(ctx, svc.redeliv.BatchSize)
	if err != nil {
		return report, err
	}

	// rows fail independently
	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	if svc.redeliv.Concurrency > 0 {
		g.SetLimit(svc.redeliv.Concurrency)
	}
	for _, pd := range pending {
		pd := pd
		g.Go(func() error {
			res, err := svc.redeliver(ctx, pd)
			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			if err != nil {
				err = errors.Wrapf(err, "redelivering approval %d", pd.ApprovalID)
				svc.logger.Error(err.Error(), err)
				if firstErr == nil {
					firstErr = err
				}
				report.Failed++
				return nil
			}
			switch res {
			case redelivered:
				report.Delivered++
			case redeliveryDropped:
				report.Dropped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, firstErr
}

type redeliveryResult int

const (
	redelivered redeliveryResult = iota
	redeliveryFailed
	redeliveryDropped
)

func (svc *Service) redeliver(ctx context.Context, pd PendingDelivery) (redeliveryResult, error) {
	detail, err := svc.repo.GetApproval(ctx, pd.ApprovalID)
	if err != nil {
		if errors.Cause(err) == ErrApprovalNotFound {
			return redeliveryDropped, svc.repo.DeletePendingDelivery(ctx, pd.ApprovalID)
		}
		return redeliveryFailed, err
	}

	filename, doc, err := svc.compose(detail)
	if err == nil {
		err = svc.send(ctx, detail, filename, doc)
	}
	if err == nil {
		svc.logger.Info(fmt.Sprintf("letter %s redelivered", detail.LetterNumber))
		return redelivered, svc.repo.DeletePendingDelivery(ctx, pd.ApprovalID)
	}

	pd.Attempts++
	if isPermanent(err) || (svc.redeliv.MaxAttempts > 0 && pd.Attempts >= svc.redeliv.MaxAttempts) {
		svc.logger.Warn(fmt.Sprintf("dropping delivery of letter %s after %d attempts", detail.LetterNumber, pd.Attempts), err)
		return redeliveryDropped, svc.repo.DeletePendingDelivery(ctx, pd.ApprovalID)
	}
	pd.Reason = err.Error()
	pd.UpdatedAt = svc.now()
	return redeliveryFailed, svc.repo.SavePendingDelivery(ctx, pd)
}
