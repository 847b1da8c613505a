package echoapi_test

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/kpsipet/pengaduan/apps/api/echo"
	"github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/tests"
)

const challenge = "2@pairing-ref,key,adv"

func TestWhatsAppApi_session(t *testing.T) {
	f := setup(t, false)

	var resp SessionResponse
	rec := f.do(t, http.MethodGet, "/v1/whatsapp/status", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, SessionResponse{Status: messaging.Status{State: messaging.StateDisconnected}}, resp)

	// nothing to scan within the wait
	rec = f.do(t, http.MethodPost, "/v1/whatsapp/init", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = SessionResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, "WhatsApp initialization started", resp.Message)
	assert.True(t, resp.Initializing)
	assert.Equal(t, messaging.StateInitializing, resp.State)
	assert.Empty(t, resp.QRCode)

	ft := f.net.Last()
	ft.Emit(messaging.Notification{Event: messaging.EventChallengeIssued, Challenge: challenge})

	rec = f.do(t, http.MethodGet, "/v1/whatsapp/init", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = SessionResponse{}
	decode(t, rec, &resp)
	assert.True(t, resp.HasQR)
	assert.Equal(t, messaging.StateAwaitingScan, resp.State)
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))

	rec = f.do(t, http.MethodPost, "/v1/whatsapp/init", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = SessionResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, "WhatsApp is initializing", resp.Message)
	assert.NotEmpty(t, resp.QRCode)
	assert.Equal(t, 1, f.net.Count(), "a second transport was created")

	ft.Emit(messaging.Notification{Event: messaging.EventAuthenticated})

	rec = f.do(t, http.MethodPost, "/v1/whatsapp/init", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = SessionResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, "WhatsApp is already connected", resp.Message)
	assert.True(t, resp.Ready)
	assert.Equal(t, messaging.StateReady, resp.State)
	assert.Empty(t, resp.QRCode)

	f.run(t, []httpTest{
		{
			name: "status", method: http.MethodGet, path: "/v1/whatsapp/status", token: f.token, wantCode: http.StatusOK,
			wantData: map[string]interface{}{"ready": true, "initializing": false, "has_qr": false, "state": "connected"},
		},
	})
}

func TestWhatsAppApi_initWaitsForQR(t *testing.T) {
	f := setup(t, false)
	f.net.Setup = func(ft *testutil.FakeTransport) {
		go ft.Emit(messaging.Notification{Event: messaging.EventChallengeIssued, Challenge: challenge})
	}

	rec := f.do(t, http.MethodPost, "/v1/whatsapp/init", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.HasQR)
	assert.Equal(t, messaging.StateAwaitingScan, resp.State)
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
}

func TestWhatsAppApi_initFails(t *testing.T) {
	f := setup(t, false)
	f.net.Err = errors.New("store unavailable")

	f.run(t, []httpTest{
		{
			name: "transport error", method: http.MethodPost, path: "/v1/whatsapp/init", token: f.token,
			wantCode: http.StatusInternalServerError, wantData: httpErr{Error: "Internal Server Error"},
		},
	})
	assert.Equal(t, messaging.StateDisconnected, f.manager.Status().State)
}

func TestWhatsAppApi_disconnect(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		f := setup(t, true)
		ft := f.net.Last()

		f.run(t, []httpTest{
			{
				name: "disconnect", method: http.MethodPost, path: "/v1/whatsapp/disconnect", token: f.token,
				wantCode: http.StatusOK, wantData: MessageResponse{Message: "WhatsApp disconnected successfully"},
			},
			{
				name: "again", method: http.MethodPost, path: "/v1/whatsapp/disconnect", token: f.token,
				wantCode: http.StatusOK, wantData: MessageResponse{Message: "WhatsApp disconnected successfully"},
			},
		})
		assert.Equal(t, 1, ft.Destroyed())
		assert.Equal(t, messaging.StateDisconnected, f.manager.Status().State)
	})

	t.Run("logout failure", func(t *testing.T) {
		f := setup(t, true)
		f.net.Last().DestroyErr = errors.New("logout refused")

		f.run(t, []httpTest{
			{
				name: "disconnect", method: http.MethodPost, path: "/v1/whatsapp/disconnect", token: f.token,
				wantCode: http.StatusInternalServerError, wantData: httpErr{Error: "Internal Server Error"},
			},
		})
		assert.Equal(t, messaging.StateDisconnected, f.manager.Status().State)
	})
}

func TestWhatsAppApi_send(t *testing.T) {
	pdf := []byte("%PDF-1.3 letter")
	path := "/v1/whatsapp/send"

	t.Run("not ready", func(t *testing.T) {
		f := setup(t, false)
		f.run(t, []httpTest{
			{
				name: "send", method: http.MethodPost, path: path, token: f.token,
				body:     SendRequest{PhoneNumber: "08123456789", Message: "Halo"},
				wantCode: http.StatusBadRequest, wantData: httpErr{Error: messaging.ErrNotReady.Error()},
			},
		})
	})

	f := setup(t, true)
	ft := f.net.Last()
	ft.Unregistered["62811000111"] = true

	f.run(t, []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: path, token: f.token, body: SendRequest{},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"phone_number": "this field is required", "message": "this field is required"},
		},
		{
			name: "blank message", method: http.MethodPost, path: path, token: f.token,
			body:     SendRequest{PhoneNumber: "08123456789", Message: "   "},
			wantCode: http.StatusBadRequest, wantData: map[string]string{"message": "this field cannot be blank"},
		},
		{
			name: "invalid pdf", method: http.MethodPost, path: path, token: f.token,
			body:     SendRequest{PhoneNumber: "08123456789", Message: "Halo", PDFBase64: "%%%"},
			wantCode: http.StatusBadRequest, wantData: map[string]string{"pdf_base64": "invalid base64 data"},
		},
		{
			name: "not registered", method: http.MethodPost, path: path, token: f.token,
			body:     SendRequest{PhoneNumber: "0811-000-111", Message: "Halo"},
			wantCode: http.StatusUnprocessableEntity,
			wantData: httpErr{Error: "number 62811000111 is not registered on WhatsApp"},
		},
		{
			name: "text only", method: http.MethodPost, path: path, token: f.token,
			body:     SendRequest{PhoneNumber: "08123456789", Message: "Halo"},
			wantCode: http.StatusOK, wantData: MessageResponse{Message: "Message sent successfully"},
		},
		{
			name: "with pdf", method: http.MethodPost, path: path, token: f.token,
			body: SendRequest{
				PhoneNumber: "+62 812-3456-789",
				Message:     "Surat terlampir",
				PDFBase64:   base64.StdEncoding.EncodeToString(pdf),
				PDFFilename: "surat",
			},
			wantCode: http.StatusOK, wantData: MessageResponse{Message: "Message sent successfully"},
		},
	})

	assert.Equal(t, []testutil.SentText{
		{Phone: "628123456789", Text: "Halo"},
		{Phone: "628123456789", Text: "Surat terlampir"},
	}, ft.Texts())

	docs := ft.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "628123456789", docs[0].Phone)
	assert.Equal(t, pdf, docs[0].Doc.Data)
	assert.Equal(t, "surat.pdf", docs[0].Doc.Filename)
	assert.Equal(t, "application/pdf", docs[0].Doc.MimeType)
	assert.Equal(t, messaging.DocumentCaption, docs[0].Doc.Caption)

	ft.SendErr = errors.New("socket closed")
	f.run(t, []httpTest{
		{
			name: "transport failure", method: http.MethodPost, path: path, token: f.token,
			body:     SendRequest{PhoneNumber: "08123456789", Message: "Halo"},
			wantCode: http.StatusInternalServerError, wantData: httpErr{Error: "Internal Server Error"},
		},
	})
}
