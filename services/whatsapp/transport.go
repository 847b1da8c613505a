// Package whatsappsvc connects the messaging session to WhatsApp, through whatsmeow.
package whatsappsvc

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/messaging"
)

var (
	errQRTimeout      = errors.New("QR code was not scanned in time")
	errClientOutdated = errors.New("client outdated, whatsmeow needs an update")
	errStreamReplaced = errors.New("session opened somewhere else")
)

// OpenStore prepares the credential store in db, creating its tables when needed.
func OpenStore(db *sql.DB, dialect string, logger waLog.Logger) (*sqlstore.Container, error) {
	container := sqlstore.NewWithDB(db, dialect, logger)
	if err := container.Upgrade(); err != nil {
		return nil, errors.Wrap(err, "upgrading whatsmeow store")
	}
	return container, nil
}

// HasCredentials tells whether a paired device is stored.
func HasCredentials(container *sqlstore.Container) (bool, error) {
	devices, err := container.GetAllDevices()
	if err != nil {
		return false, errors.Wrap(err, "loading devices")
	}
	return len(devices) > 0, nil
}

// NewTransportFactory returns a factory of transports sharing the stored device.
// clientID is the device name shown in the linked devices of the phone.
func NewTransportFactory(container *sqlstore.Container, conf core.WhatsAppConfig, logger waLog.Logger) messaging.TransportFactory {
	store.SetOSInfo(conf.ClientID, [3]uint32{1, 0, 0})

	return func() (messaging.Transport, error) {
		device, err := container.GetFirstDevice()
		if err != nil {
			return nil, errors.Wrap(err, "loading device")
		}
		return &transport{client: whatsmeow.NewClient(device, logger.Sub("Client"))}, nil
	}
}

type transport struct {
	client *whatsmeow.Client
}

var _ messaging.Transport = (*transport)(nil)

func (t *transport) Connect(ctx context.Context, notify func(messaging.Notification)) error {
	ended := make(chan error, 1)
	end := func(err error) {
		select {
		case ended <- err:
		default:
		}
	}

	handlerID := t.client.AddEventHandler(func(evt interface{}) {
		switch e := evt.(type) {
		case *events.Connected:
			notify(messaging.Notification{Event: messaging.EventAuthenticated})
		case *events.LoggedOut:
			end(errors.Errorf("logged out: %s", e.Reason))
		case *events.ConnectFailure:
			end(errors.Errorf("connect failure: %s %s", e.Reason, e.Message))
		case *events.TemporaryBan:
			end(errors.Errorf("temporary ban: %s", e))
		case *events.ClientOutdated:
			end(errClientOutdated)
		case *events.StreamReplaced:
			end(errStreamReplaced)
		}
	})
	defer t.client.RemoveEventHandler(handlerID)

	// a stored device resumes its session without pairing
	var qrChan <-chan whatsmeow.QRChannelItem
	if t.client.Store.ID == nil {
		ch, err := t.client.GetQRChannel(ctx)
		if err != nil {
			return errors.Wrap(err, "getting QR channel")
		}
		qrChan = ch
	}

	if err := t.client.Connect(); err != nil {
		return errors.Wrap(err, "connecting")
	}
	defer t.client.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-ended:
			return err
		case item, ok := <-qrChan:
			if !ok {
				qrChan = nil
				continue
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				notify(messaging.Notification{Event: messaging.EventChallengeIssued, Challenge: item.Code})
			case whatsmeow.QRChannelSuccess.Event:
				// events.Connected follows once the new device reconnects
			case whatsmeow.QRChannelTimeout.Event:
				return errQRTimeout
			case whatsmeow.QRChannelEventError:
				return errors.Wrap(item.Error, "pairing")
			default:
				return errors.Errorf("pairing: %s", item.Event)
			}
		}
	}
}

func (t *transport) IsRegistered(_ context.Context, phone string) (bool, error) {
	resp, err := t.client.IsOnWhatsApp([]string{"+" + phone})
	if err != nil {
		return false, err
	}
	return len(resp) > 0 && resp[0].IsIn, nil
}

func jid(phone string) types.JID {
	return types.NewJID(phone, types.DefaultUserServer)
}

func (t *transport) SendText(ctx context.Context, phone, text string) error {
	_, err := t.client.SendMessage(ctx, jid(phone), &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (t *transport) SendDocument(ctx context.Context, phone string, doc messaging.Document) error {
	up, err := t.client.Upload(ctx, doc.Data, whatsmeow.MediaDocument)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}

	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Mimetype:      proto.String(doc.MimeType),
		FileName:      proto.String(doc.Filename),
		Title:         proto.String(doc.Filename),
		Caption:       proto.String(doc.Caption),
	}}
	_, err = t.client.SendMessage(ctx, jid(phone), msg)
	return err
}

// Destroy logs the device out, which deletes its credentials.
// A device that cannot reach the server has its credentials deleted locally.
func (t *transport) Destroy(context.Context) error {
	if t.client.IsLoggedIn() {
		if err := t.client.Logout(); err != nil {
			return errors.Wrap(err, "logging out")
		}
		return nil
	}
	if t.client.Store.ID != nil {
		if err := t.client.Store.Delete(); err != nil {
			return errors.Wrap(err, "deleting credentials")
		}
	}
	return nil
}
