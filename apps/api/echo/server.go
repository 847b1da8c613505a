package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
)

type (
	// SessionManager drives the messaging session.
	SessionManager interface {
		Connect() error
		AwaitChallenge(ctx context.Context, wait time.Duration) messaging.Status
		Status() messaging.Status
		QRCode() string
		SendMessage(ctx context.Context, phoneNumber, text string, att *messaging.Attachment) error
		Disconnect(ctx context.Context) error
	}

	// ComplaintService approves cases and serves what an operator needs to follow them up.
	ComplaintService interface {
		Approve(ctx context.Context, req complaint.ApproveRequest) (complaint.ApprovalResult, error)
		Templates(ctx context.Context) ([]complaint.Template, error)
		Approvals(ctx context.Context) ([]complaint.ApprovalDetail, error)
		Letter(ctx context.Context, approvalID int) (filename string, doc []byte, err error)
	}

	ServerDeps struct {
		Conf         *core.Config
		Logger       core.Logger
		Manager      SessionManager
		ComplaintSvc ComplaintService
		Validate     *validator.Validate
		Translator   ut.Translator
	}

	Server struct {
		conf     *core.Config
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var (
	_ SessionManager   = (*messaging.Manager)(nil)
	_ ComplaintService = (*complaint.Service)(nil)
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		conf:     deps.Conf,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	s.app.HideBanner = true
	s.app.Debug = s.conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1", newJWTMiddleware(s.conf))
	registerWhatsAppAPI(v1, deps.Manager, deps.Validate, s.conf.WhatsApp.QRWait)
	registerApprovalAPI(v1, deps.ComplaintSvc, deps.Validate)
}

// Start listens on conf.Server.Address until the server is shut down.
// Listening errors are sent to Errors().
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- errors.Wrap(err, "listening")
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives interrupts and shutdown requests raised while handling a request.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

// Shutdown stops accepting requests and waits for the outstanding ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
