package complaint

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kpsipet/pengaduan/core"
)

// NewServiceMock returns a Service whose clock is now. A nil composer keeps the default one.
func NewServiceMock(
	repo Repository,
	composer Composer,
	messenger Messenger,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
	now func() time.Time,
) *Service {
	svc := NewService(repo, messenger, mailSvc, validate, logger, conf)
	svc.now = now
	if composer != nil {
		svc.composer = composer
	}
	return svc
}
