package echoapi

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/messaging"
)

const defaultPDFFilename = "document.pdf"

type (
	whatsAppApi struct {
		mgr      SessionManager
		validate *validator.Validate
		qrWait   time.Duration
	}

	// SessionResponse describes the messaging session. QRCode is a PNG data url.
	SessionResponse struct {
		messaging.Status
		Message string `json:"message,omitempty"`
		QRCode  string `json:"qr_code,omitempty"`
	}

	SendRequest struct {
		PhoneNumber string `json:"phone_number" validate:"required,notblank"`
		Message     string `json:"message" validate:"required,notblank"`
		PDFBase64   string `json:"pdf_base64"`
		PDFFilename string `json:"pdf_filename"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)

func (r *SendRequest) Validate(validate *validator.Validate) error {
	r.PhoneNumber = core.CleanString(r.PhoneNumber)
	r.PDFFilename = core.CleanString(r.PDFFilename)
	return validate.Struct(r)
}

// attachment decodes the optional PDF of the request.
func (r *SendRequest) attachment() (*messaging.Attachment, error) {
	if r.PDFBase64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.PDFBase64)
	if err != nil {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "pdf_base64", Error: "invalid base64 data"})
	}
	filename := r.PDFFilename
	if filename == "" {
		filename = defaultPDFFilename
	} else if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		filename += ".pdf"
	}
	return &messaging.Attachment{Data: data, Filename: filename}, nil
}

func registerWhatsAppAPI(g *echo.Group, mgr SessionManager, validate *validator.Validate, qrWait time.Duration) {
	api := whatsAppApi{mgr: mgr, validate: validate, qrWait: qrWait}

	wg := g.Group("/whatsapp")
	wg.POST("/init", api.init)
	wg.GET("/init", api.current)
	wg.GET("/status", api.status)
	wg.POST("/disconnect", api.disconnect)
	wg.POST("/send", api.send)
}

// Handlers

// init begins a session, then waits a bit for the QR code to scan.
// A session already initializing or connected is reported as is.
func (api *whatsAppApi) init(ctx echo.Context) error {
	err := api.mgr.Connect()
	switch errors.Cause(err) {
	case nil:
	case messaging.ErrAlreadyConnected:
		return ctx.JSON(http.StatusOK, api.response("WhatsApp is already connected"))
	case messaging.ErrAlreadyInitializing:
		return ctx.JSON(http.StatusOK, api.response("WhatsApp is initializing"))
	default:
		return errors.Wrap(err, "connecting session")
	}

	st := api.mgr.AwaitChallenge(ctx.Request().Context(), api.qrWait)
	msg := "WhatsApp initialization started"
	if st.Ready {
		msg = "WhatsApp is connected"
	}
	return ctx.JSON(http.StatusOK, api.response(msg))
}

func (api *whatsAppApi) current(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.response(""))
}

func (api *whatsAppApi) status(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, SessionResponse{Status: api.mgr.Status()})
}

func (api *whatsAppApi) disconnect(ctx echo.Context) error {
	if err := api.mgr.Disconnect(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "disconnecting session")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "WhatsApp disconnected successfully"})
}

func (api *whatsAppApi) send(ctx echo.Context) error {
	var data SendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	att, err := data.attachment()
	if err != nil {
		return err
	}

	if err = api.mgr.SendMessage(ctx.Request().Context(), data.PhoneNumber, data.Message, att); err != nil {
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Message sent successfully"})
}

func (api *whatsAppApi) response(msg string) SessionResponse {
	st := api.mgr.Status()
	resp := SessionResponse{Status: st, Message: msg}
	if st.HasQR {
		resp.QRCode = api.mgr.QRCode()
	}
	return resp
}
