package emailsvc

import (
	"bytes"
	"encoding/base64"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpsipet/pengaduan/core"
)

var conf = &core.Config{AppName: "Pengaduan", DefaultFromEmail: "noreply@smkn1.sch.id"}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func archiveMessage() *core.EmailMessage {
	msg := &core.EmailMessage{
		To:      []mail.Address{{Address: "arsip@smkn1.sch.id"}},
		Subject: "Surat 003/SP/3/2025 - Ani",
		Body:    "Surat pemberitahuan terlampir.",
	}
	_ = msg.Attach(bytes.NewReader([]byte("%PDF-1.3 letter")), "Surat.pdf")
	return msg
}

func TestConsoleService_SendMessages(t *testing.T) {
	var out bytes.Buffer
	svc := NewConsoleServiceMock(&out, nopLogger{}, conf)

	svc.SendMessages(archiveMessage(), &core.EmailMessage{Subject: "no recipients", Body: "x"})

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Surat 003/SP/3/2025 - Ani", sent[0].Subject)

	got := out.String()
	assert.Contains(t, got, `From: "Pengaduan" <noreply@smkn1.sch.id>`)
	assert.Contains(t, got, "Subject: [Pengaduan] Surat 003/SP/3/2025 - Ani")
	assert.Contains(t, got, "To: <arsip@smkn1.sch.id>")
	assert.Contains(t, got, "Surat pemberitahuan terlampir.")
	assert.Contains(t, got, `attachment; filename="Surat.pdf"`)
	assert.Contains(t, got, "Content-Type: application/pdf")
	assert.Contains(t, got, base64.StdEncoding.EncodeToString([]byte("%PDF-1.3 letter")))
	assert.NotContains(t, got, "no recipients")
}

func TestSendgridService_prepare(t *testing.T) {
	svc := NewSendgridService(nopLogger{}, conf)
	m := svc.prepare(*archiveMessage())

	assert.Equal(t, "noreply@smkn1.sch.id", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[Pengaduan] Surat 003/SP/3/2025 - Ani", m.Personalizations[0].Subject)
	assert.Equal(t, "arsip@smkn1.sch.id", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-1.3 letter")), m.Attachments[0].Content)
	assert.Equal(t, "application/pdf", m.Attachments[0].Type)
}
