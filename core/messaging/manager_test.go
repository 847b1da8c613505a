package messaging_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	. "github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/tests"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(t *testing.T) (*Manager, *testutil.FakeNetwork) {
	net := &testutil.FakeNetwork{}
	m := NewManager(net.NewTransport, testutil.NopLogger{})
	t.Cleanup(m.Close)
	return m, net
}

func challenge(ft *testutil.FakeTransport, ref string) {
	ft.Emit(Notification{Event: EventChallengeIssued, Challenge: ref})
}

func TestManager_ConnectAndPair(t *testing.T) {
	m, net := newManager(t)
	assert.Equal(t, Status{State: StateDisconnected}, m.Status())

	require.NoError(t, m.Connect())
	assert.Equal(t, Status{Initializing: true, State: StateInitializing}, m.Status())
	assert.Empty(t, m.QRCode())

	ft := net.Last()
	challenge(ft, "2@first")
	assert.Equal(t, Status{Initializing: true, HasQR: true, State: StateAwaitingScan}, m.Status())
	first := m.QRCode()
	assert.True(t, strings.HasPrefix(first, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(first, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	assert.Equal(t, "2@first", m.Challenge())

	challenge(ft, "2@second")
	assert.NotEqual(t, first, m.QRCode(), "refreshed challenge should replace the QR code")
	assert.Equal(t, "2@second", m.Challenge())

	ft.Emit(Notification{Event: EventAuthenticated})
	assert.Equal(t, Status{Ready: true, State: StateReady}, m.Status())
	assert.Empty(t, m.QRCode())
	assert.Empty(t, m.Challenge())
	assert.Equal(t, 1, net.Count())
}

func TestManager_ResumeWithoutScan(t *testing.T) {
	m, net := newManager(t)
	require.NoError(t, m.Connect())
	net.Last().Emit(Notification{Event: EventAuthenticated})
	assert.True(t, m.IsReady())
}

func TestManager_ConnectTwice(t *testing.T) {
	m, net := newManager(t)
	require.NoError(t, m.Connect())
	assert.Equal(t, ErrAlreadyInitializing, m.Connect())

	challenge(net.Last(), "2@ref")
	assert.Equal(t, StateAwaitingScan, m.Status().State)
	assert.Equal(t, ErrAlreadyInitializing, m.Connect())
	assert.Equal(t, 1, net.Count(), "no second transport")

	net.Last().Emit(Notification{Event: EventAuthenticated})
	assert.Equal(t, ErrAlreadyConnected, m.Connect())
	assert.Equal(t, 1, net.Count())
}

func TestManager_ConnectTransportError(t *testing.T) {
	net := &testutil.FakeNetwork{Err: errors.New("store unavailable")}
	m := NewManager(net.NewTransport, testutil.NopLogger{})

	err := m.Connect()
	assert.EqualError(t, err, "creating transport: store unavailable")
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestManager_AuthFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ft *testutil.FakeTransport)
		fail  func(ft *testutil.FakeTransport)
	}{
		{
			name:  "notified while initializing",
			setup: func(*testutil.FakeTransport) {},
			fail: func(ft *testutil.FakeTransport) {
				ft.Emit(Notification{Event: EventAuthFailed, Reason: "bad credentials"})
			},
		},
		{
			name:  "notified while awaiting scan",
			setup: func(ft *testutil.FakeTransport) { challenge(ft, "2@ref") },
			fail: func(ft *testutil.FakeTransport) {
				ft.Emit(Notification{Event: EventAuthFailed, Reason: "timeout"})
			},
		},
		{
			name:  "connection ended with an error",
			setup: func(ft *testutil.FakeTransport) { challenge(ft, "2@ref") },
			fail:  func(ft *testutil.FakeTransport) { ft.Drop(errors.New("qr timeout")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, net := newManager(t)
			require.NoError(t, m.Connect())
			ft := net.Last()
			tt.setup(ft)
			tt.fail(ft)

			assert.Eventually(t, func() bool {
				return m.Status() == Status{State: StateDisconnected}
			}, time.Second, 5*time.Millisecond)
			assert.Empty(t, m.QRCode())

			// a fresh connect is allowed
			require.NoError(t, m.Connect())
			assert.Equal(t, 2, net.Count())
		})
	}
}

func TestManager_ExternalDisconnect(t *testing.T) {
	m, ft := testutil.NewReadyManager(t, nil)
	ft.Emit(Notification{Event: EventDisconnected, Reason: "logged out from phone"})
	assert.Equal(t, StateDisconnected, m.Status().State)

	err := m.SendMessage(context.Background(), "08123", "hi", nil)
	assert.Equal(t, ErrNotReady, err)
}

func TestManager_ConnectionEndsWhileReady(t *testing.T) {
	m, ft := testutil.NewReadyManager(t, nil)
	ft.Drop(errors.New("stream replaced"))
	assert.Eventually(t, func() bool {
		return m.Status().State == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestManager_StaleNotificationsIgnored(t *testing.T) {
	m, net := newManager(t)
	require.NoError(t, m.Connect())
	old := net.Last()
	challenge(old, "2@old")
	require.NoError(t, m.Disconnect(context.Background()))

	require.NoError(t, m.Connect())
	assert.Equal(t, 2, net.Count())

	// old transport already returned; its notify func must not touch the new session
	old.Emit(Notification{Event: EventAuthenticated})
	assert.Equal(t, StateInitializing, m.Status().State)
}

func TestManager_IllegalNotificationIgnored(t *testing.T) {
	m, ft := testutil.NewReadyManager(t, nil)
	challenge(ft, "2@late")
	assert.Equal(t, Status{Ready: true, State: StateReady}, m.Status())
}

func TestManager_SendMessage(t *testing.T) {
	ctx := context.Background()
	pdf := []byte("%PDF-1.3 letter")

	t.Run("not ready", func(t *testing.T) {
		m, net := newManager(t)
		err := m.SendMessage(ctx, "08123456789", "hello", nil)
		assert.Equal(t, ErrNotReady, err)
		assert.Equal(t, 0, net.Count(), "no network call")

		require.NoError(t, m.Connect())
		challenge(net.Last(), "2@ref")
		assert.Equal(t, ErrNotReady, m.SendMessage(ctx, "08123456789", "hello", nil))
		assert.Empty(t, net.Last().Checked())
		assert.Empty(t, net.Last().Texts())
	})

	t.Run("text only", func(t *testing.T) {
		m, ft := testutil.NewReadyManager(t, nil)
		require.NoError(t, m.SendMessage(ctx, "0812-3456-789", "hello", nil))
		assert.Equal(t, []string{"628123456789"}, ft.Checked())
		assert.Equal(t, []testutil.SentText{{Phone: "628123456789", Text: "hello"}}, ft.Texts())
		assert.Empty(t, ft.Documents())
	})

	t.Run("with attachment", func(t *testing.T) {
		m, ft := testutil.NewReadyManager(t, nil)
		att := &Attachment{Data: pdf, Filename: "Surat.pdf"}
		require.NoError(t, m.SendMessage(ctx, "+6281234567", "hello", att))

		require.Len(t, ft.Texts(), 1)
		docs := ft.Documents()
		require.Len(t, docs, 1)
		assert.Equal(t, "6281234567", docs[0].Phone)
		assert.Equal(t, Document{
			Data:     pdf,
			Filename: "Surat.pdf",
			MimeType: "application/pdf",
			Caption:  DocumentCaption,
		}, docs[0].Doc)
	})

	t.Run("not registered", func(t *testing.T) {
		net := &testutil.FakeNetwork{Setup: func(ft *testutil.FakeTransport) {
			ft.Unregistered["628111"] = true
		}}
		m, ft := testutil.NewReadyManager(t, net)
		err := m.SendMessage(ctx, "08111", "hello", &Attachment{Data: pdf, Filename: "a.pdf"})

		var nre *NotRegisteredError
		require.True(t, errors.As(err, &nre))
		assert.Equal(t, "628111", nre.Phone)
		assert.EqualError(t, err, "number 628111 is not registered on WhatsApp")
		assert.Empty(t, ft.Texts())
		assert.Empty(t, ft.Documents())
	})

	t.Run("registration check fails", func(t *testing.T) {
		net := &testutil.FakeNetwork{Setup: func(ft *testutil.FakeTransport) {
			ft.RegisterErr = errors.New("usync timeout")
		}}
		m, ft := testutil.NewReadyManager(t, net)
		err := m.SendMessage(ctx, "08111", "hello", nil)
		assert.EqualError(t, err, "checking 628111: usync timeout")
		assert.Empty(t, ft.Texts())
	})

	t.Run("text fails aborts document", func(t *testing.T) {
		net := &testutil.FakeNetwork{Setup: func(ft *testutil.FakeTransport) {
			ft.SendErr = errors.New("socket closed")
		}}
		m, ft := testutil.NewReadyManager(t, net)
		err := m.SendMessage(ctx, "08111", "hello", &Attachment{Data: pdf, Filename: "a.pdf"})
		assert.EqualError(t, err, "sending text: socket closed")
		assert.Empty(t, ft.Documents())
	})

	t.Run("document fails", func(t *testing.T) {
		net := &testutil.FakeNetwork{Setup: func(ft *testutil.FakeTransport) {
			ft.DocumentErr = errors.New("upload failed")
		}}
		m, ft := testutil.NewReadyManager(t, net)
		err := m.SendMessage(ctx, "08111", "hello", &Attachment{Data: pdf, Filename: "a.pdf"})
		assert.EqualError(t, err, "sending document: upload failed")
		assert.Len(t, ft.Texts(), 1)
	})
}

func TestManager_Disconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		m, net := newManager(t)
		require.NoError(t, m.Disconnect(ctx))
		require.NoError(t, m.Disconnect(ctx))
		assert.Equal(t, 0, net.Count())
	})

	t.Run("from every live state", func(t *testing.T) {
		for _, steps := range [][]Event{
			nil,
			{EventChallengeIssued},
			{EventChallengeIssued, EventAuthenticated},
		} {
			m, net := newManager(t)
			require.NoError(t, m.Connect())
			ft := net.Last()
			for _, e := range steps {
				ft.Emit(Notification{Event: e, Challenge: "2@ref"})
			}

			require.NoError(t, m.Disconnect(ctx))
			assert.Equal(t, Status{State: StateDisconnected}, m.Status())
			assert.Empty(t, m.QRCode())
			assert.Equal(t, 1, ft.Destroyed())

			require.NoError(t, m.Disconnect(ctx))
			assert.Equal(t, 1, ft.Destroyed())
		}
	})

	t.Run("destroy error still resets", func(t *testing.T) {
		net := &testutil.FakeNetwork{Setup: func(ft *testutil.FakeTransport) {
			ft.DestroyErr = errors.New("logout failed")
		}}
		m, _ := testutil.NewReadyManager(t, net)
		err := m.Disconnect(ctx)
		assert.EqualError(t, err, "destroying session: logout failed")
		assert.Equal(t, StateDisconnected, m.Status().State)
		require.NoError(t, m.Connect())
	})
}

func TestManager_AwaitChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("challenge arrives", func(t *testing.T) {
		m, net := newManager(t)
		require.NoError(t, m.Connect())
		go challenge(net.Last(), "2@ref")

		st := m.AwaitChallenge(ctx, 2*time.Second)
		assert.True(t, st.HasQR)
		assert.Equal(t, StateAwaitingScan, st.State)
	})

	t.Run("times out", func(t *testing.T) {
		m, _ := newManager(t)
		require.NoError(t, m.Connect())
		st := m.AwaitChallenge(ctx, 50*time.Millisecond)
		assert.Equal(t, Status{Initializing: true, State: StateInitializing}, st)
	})

	t.Run("already ready", func(t *testing.T) {
		m, _ := testutil.NewReadyManager(t, nil)
		assert.True(t, m.AwaitChallenge(ctx, time.Minute).Ready)
	})
}

func TestManager_Close(t *testing.T) {
	m, ft := testutil.NewReadyManager(t, nil)
	m.Close()
	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Equal(t, 0, ft.Destroyed(), "close keeps stored credentials")
}

func TestEncodeQR(t *testing.T) {
	got, err := EncodeQR("2@abc,def,ghi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))

	_, err = EncodeQR(strings.Repeat("x", 4000))
	assert.Error(t, err)
}
