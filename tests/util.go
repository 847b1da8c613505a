package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/storage/database"
	"github.com/kpsipet/pengaduan/storage/database/inmem"
)

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

type (
	SentText struct {
		Phone string
		Text  string
	}

	SentDocument struct {
		Phone string
		Doc   messaging.Document
	}

	// FakeTransport records every call and lets tests drive notifications.
	FakeTransport struct {
		// Unregistered numbers fail the registration check.
		Unregistered map[string]bool
		RegisterErr  error
		SendErr      error
		DocumentErr  error
		DestroyErr   error

		mu        sync.Mutex
		notify    func(messaging.Notification)
		connected chan struct{}
		drop      chan error
		checked   []string
		texts     []SentText
		docs      []SentDocument
		destroyed int
	}
)

var _ messaging.Transport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Unregistered: make(map[string]bool),
		connected:    make(chan struct{}),
		drop:         make(chan error),
	}
}

func (f *FakeTransport) Connect(ctx context.Context, notify func(messaging.Notification)) error {
	f.mu.Lock()
	f.notify = notify
	f.mu.Unlock()
	close(f.connected)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.drop:
		return err
	}
}

// Emit delivers n to the session manager once the connection is running.
func (f *FakeTransport) Emit(n messaging.Notification) {
	<-f.connected
	f.mu.Lock()
	notify := f.notify
	f.mu.Unlock()
	notify(n)
}

// Drop ends the connection from the network side, with err as the reason.
func (f *FakeTransport) Drop(err error) {
	<-f.connected
	f.drop <- err
}

func (f *FakeTransport) IsRegistered(_ context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, phone)
	if f.RegisterErr != nil {
		return false, f.RegisterErr
	}
	return !f.Unregistered[phone], nil
}

func (f *FakeTransport) SendText(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.texts = append(f.texts, SentText{Phone: phone, Text: text})
	return nil
}

func (f *FakeTransport) SendDocument(_ context.Context, phone string, doc messaging.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DocumentErr != nil {
		return f.DocumentErr
	}
	f.docs = append(f.docs, SentDocument{Phone: phone, Doc: doc})
	return nil
}

func (f *FakeTransport) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return f.DestroyErr
}

func (f *FakeTransport) Checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checked...)
}

func (f *FakeTransport) Texts() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentText(nil), f.texts...)
}

func (f *FakeTransport) Documents() []SentDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentDocument(nil), f.docs...)
}

func (f *FakeTransport) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// FakeNetwork hands out FakeTransports to a session manager.
type FakeNetwork struct {
	Err   error
	Setup func(*FakeTransport)

	mu         sync.Mutex
	transports []*FakeTransport
}

func (n *FakeNetwork) NewTransport() (messaging.Transport, error) {
	if n.Err != nil {
		return nil, n.Err
	}
	t := NewFakeTransport()
	if n.Setup != nil {
		n.Setup(t)
	}
	n.mu.Lock()
	n.transports = append(n.transports, t)
	n.mu.Unlock()
	return t, nil
}

func (n *FakeNetwork) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

func (n *FakeNetwork) Last() *FakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.transports) == 0 {
		return nil
	}
	return n.transports[len(n.transports)-1]
}

// NewReadyManager returns a session manager already paired over a FakeTransport.
func NewReadyManager(t *testing.T, net *FakeNetwork) (*messaging.Manager, *FakeTransport) {
	if net == nil {
		net = &FakeNetwork{}
	}
	m := messaging.NewManager(net.NewTransport, NopLogger{})
	t.Cleanup(m.Close)

	if err := m.Connect(); err != nil {
		t.Fatalf("NewReadyManager() failed: %v", err)
	}
	ft := net.Last()
	ft.Emit(messaging.Notification{Event: messaging.EventChallengeIssued, Challenge: "2@pairing-ref"})
	ft.Emit(messaging.Notification{Event: messaging.EventAuthenticated})
	if !m.IsReady() {
		t.Fatalf("NewReadyManager() failed: session is %s", m.Status().State)
	}
	return m, ft
}

// Config returns the configuration used by tests.
func Config() *core.Config {
	return &core.Config{
		Debug:            true,
		TestMode:         true,
		Env:              "TEST",
		AppName:          "Pengaduan",
		SecretKey:        "test-secret",
		DefaultFromEmail: "noreply@smkn1.sch.id",
		Server: core.ServerConfig{
			Address:            ":8000",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		School: core.SchoolConfig{
			Level:        "SEKOLAH MENENGAH KEJURUAN",
			Name:         "SMK NEGERI 1 EXAMPLE",
			Address:      "Jl. Pendidikan No. 123, Kota Example",
			Contact:      "Telp: (021) 1234567",
			Place:        "Example",
			SigneeTitle:  "Kepala Sekolah,",
			SigneeName:   "(Nama Kepala Sekolah)",
			SigneeID:     "NIP. 123456789012345678",
			ArchiveEmail: "arsip@smkn1.sch.id",
		},
		WhatsApp: core.WhatsAppConfig{
			ClientID: "test",
			QRWait:   200 * time.Millisecond,
		},
		Redelivery: core.RedeliveryConfig{
			Schedule:    "@every 1m",
			BatchSize:   10,
			MaxAttempts: 3,
			Concurrency: 2,
		},
	}
}

// Outbox records sent emails.
type Outbox struct {
	mu   sync.Mutex
	sent []core.EmailMessage
}

var _ core.EmailService = (*Outbox)(nil)

func (o *Outbox) SendMessages(messages ...*core.EmailMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, msg := range messages {
		o.sent = append(o.sent, *msg)
	}
}

func (o *Outbox) Sent() []core.EmailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]core.EmailMessage(nil), o.sent...)
}

// CreateCase seeds a submitted case with its student, teacher and a template.
func CreateCase(
	t *testing.T,
	repo *inmemdb.ComplaintRepository,
	caseID int,
	studentName, parentContact, description string,
	reportedAt ...time.Time,
) complaint.Case {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(reportedAt) > 0 {
		tstamp = reportedAt[0].UTC()
	}
	st := repo.CreateStudent(complaint.Student{
		NISN:          "0051234567",
		Name:          studentName,
		Class:         "XI RPL 2",
		ParentContact: parentContact,
	})
	tc := repo.CreateTeacher(complaint.Teacher{NIP: "198001012005011001", Name: "Budi Santoso"})
	return repo.CreateCase(complaint.Case{
		ID:          caseID,
		ReportedAt:  tstamp,
		Description: description,
		Student:     st,
		Teacher:     tc,
	})
}

func CreateTemplate(t *testing.T, repo *inmemdb.ComplaintRepository, name, body string) complaint.Template {
	t.Helper()
	return repo.CreateTemplate(complaint.Template{Name: name, Body: body})
}

// PrepareDB opens the test database, migrates it and empties it once the test is over.
// Tests needing it are skipped unless ENV=TEST.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if os.Getenv("ENV") != "TEST" {
		t.Skip("database tests only run with ENV=TEST")
	}

	conf := core.NewConfig()
	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}

	t.Cleanup(func() {
		_, err := db.Exec(`TRUNCATE pending_deliveries, approvals, complaints, letter_templates, teachers, students, users
RESTART IDENTITY CASCADE`)
		if err != nil {
			t.Errorf("PrepareDB() cleanup failed: %v", err)
		}
		_ = db.Close()
	})
	return db
}
