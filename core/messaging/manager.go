// Package messaging owns the single outbound messaging session of the process:
// pairing by QR code, readiness tracking, dispatch and teardown.
package messaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/phone"
)

const (
	DocumentCaption = "Surat Pemberitahuan Orang Tua"
	pdfMimeType     = "application/pdf"
	qrSize          = 300
)

var (
	ErrAlreadyInitializing = errors.New("session is already initializing")
	ErrAlreadyConnected    = errors.New("session is already connected")
	ErrNotReady            = errors.New("session is not ready, scan the QR code first")
)

// NotRegisteredError is returned when the recipient has no account on the messaging network.
type NotRegisteredError struct {
	Phone string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("number %s is not registered on WhatsApp", e.Phone)
}

type (
	// Status is a snapshot of the session.
	Status struct {
		Ready        bool  `json:"ready"`
		Initializing bool  `json:"initializing"`
		HasQR        bool  `json:"has_qr"`
		State        State `json:"state"`
	}

	// Attachment is sent as a document message following the text.
	Attachment struct {
		Data     []byte
		Filename string
		MimeType string // defaults to application/pdf
	}

	session struct {
		transport Transport
		cancel    context.CancelFunc
		done      chan struct{}
	}

	Manager struct {
		newTransport TransportFactory
		logger       core.Logger

		mu        sync.Mutex
		state     State
		qr        string // data url of the pending challenge
		challenge string
		gen       uint64
		sess      *session
	}
)

func NewManager(newTransport TransportFactory, logger core.Logger) *Manager {
	return &Manager{newTransport: newTransport, logger: logger}
}

// Connect provisions a transport and starts pairing in the background.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateInitializing, StateAwaitingScan:
		return ErrAlreadyInitializing
	case StateReady:
		return ErrAlreadyConnected
	}

	next, err := Next(m.state, EventConnectRequested)
	if err != nil {
		return err
	}
	t, err := m.newTransport()
	if err != nil {
		return errors.Wrap(err, "creating transport")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.gen++
	gen := m.gen
	sess := &session{transport: t, cancel: cancel, done: make(chan struct{})}
	m.sess = sess
	m.state = next
	m.qr, m.challenge = "", ""

	go func() {
		defer close(sess.done)
		err := t.Connect(ctx, func(n Notification) { m.handle(gen, n) })
		if ctx.Err() == nil {
			m.end(gen, err)
		}
	}()
	return nil
}

// handle folds a transport notification into the session state.
// Notifications from a replaced transport are dropped.
func (m *Manager) handle(gen uint64, n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.sess == nil {
		return
	}
	m.apply(n)
}

// end is called once the transport connection returns on its own.
func (m *Manager) end(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.sess == nil {
		return
	}
	n := Notification{Event: EventDisconnected}
	if err != nil {
		n.Reason = err.Error()
		if m.state != StateReady {
			n.Event = EventAuthFailed
		}
	}
	m.apply(n)
}

func (m *Manager) apply(n Notification) {
	next, err := Next(m.state, n.Event)
	if err != nil {
		m.logger.Warn("messaging.Manager: ignoring notification", err)
		return
	}

	switch n.Event {
	case EventChallengeIssued:
		qr, err := EncodeQR(n.Challenge)
		if err != nil {
			m.logger.Error("messaging.Manager: encoding QR code", err)
			return
		}
		m.qr, m.challenge = qr, n.Challenge
	case EventAuthenticated:
		m.qr, m.challenge = "", ""
	case EventAuthFailed, EventDisconnected:
		m.qr, m.challenge = "", ""
		m.sess.cancel()
		m.sess = nil
	}

	if next != m.state {
		m.logger.Info(fmt.Sprintf("messaging session %s -> %s", m.state, next), map[string]interface{}{
			"event":  n.Event.String(),
			"reason": n.Reason,
		})
	}
	m.state = next
}

// Challenge returns the raw pending pairing challenge, for rendering it other than as a PNG.
func (m *Manager) Challenge() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// QRCode returns the pending pairing challenge as a PNG data url, or an empty string.
func (m *Manager) QRCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qr
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status()
}

func (m *Manager) status() Status {
	return Status{
		Ready:        m.state == StateReady,
		Initializing: m.state == StateInitializing || m.state == StateAwaitingScan,
		HasQR:        m.qr != "",
		State:        m.state,
	}
}

func (m *Manager) IsReady() bool {
	return m.Status().Ready
}

// AwaitChallenge polls until a QR code is pending, the session is ready or wait elapses.
func (m *Manager) AwaitChallenge(ctx context.Context, wait time.Duration) Status {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		st := m.Status()
		if st.HasQR || st.Ready || st.State == StateDisconnected {
			return st
		}
		select {
		case <-ctx.Done():
			return m.Status()
		case <-timer.C:
			return m.Status()
		case <-ticker.C:
		}
	}
}

// SendMessage sends text to phoneNumber, followed by att when given.
// The first failing step aborts the rest.
func (m *Manager) SendMessage(ctx context.Context, phoneNumber, text string, att *Attachment) error {
	m.mu.Lock()
	if m.state != StateReady || m.sess == nil {
		m.mu.Unlock()
		return ErrNotReady
	}
	t := m.sess.transport
	m.mu.Unlock()

	num := phone.Normalize(phoneNumber)
	ok, err := t.IsRegistered(ctx, num)
	if err != nil {
		return errors.Wrapf(err, "checking %s", num)
	}
	if !ok {
		return &NotRegisteredError{Phone: num}
	}

	if err = t.SendText(ctx, num, text); err != nil {
		return errors.Wrap(err, "sending text")
	}
	if att == nil {
		return nil
	}

	doc := Document{
		Data:     att.Data,
		Filename: att.Filename,
		MimeType: att.MimeType,
		Caption:  DocumentCaption,
	}
	if doc.MimeType == "" {
		doc.MimeType = pdfMimeType
	}
	if err = t.SendDocument(ctx, num, doc); err != nil {
		return errors.Wrap(err, "sending document")
	}
	return nil
}

// Disconnect tears the session down and deletes its credentials. It is a no-op when there is no session.
// Session state is reset even when the transport fails to log out.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.gen++
	if m.state != StateDisconnected {
		m.logger.Info(fmt.Sprintf("messaging session %s -> %s", m.state, StateDisconnected))
	}
	m.state = StateDisconnected
	m.qr, m.challenge = "", ""
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.transport.Destroy(ctx)
	sess.cancel()
	<-sess.done
	if err != nil {
		return errors.Wrap(err, "destroying session")
	}
	return nil
}

// Close stops the connection without deleting stored credentials, so the next start can resume.
func (m *Manager) Close() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.gen++
	m.state = StateDisconnected
	m.qr, m.challenge = "", ""
	m.mu.Unlock()

	if sess != nil {
		sess.cancel()
		<-sess.done
	}
}

// EncodeQR renders a pairing challenge as a PNG data url.
func EncodeQR(challenge string) (string, error) {
	png, err := qrcode.Encode(challenge, qrcode.Medium, qrSize)
	if err != nil {
		return "", errors.Wrap(err, "encoding qr code")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
