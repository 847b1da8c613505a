package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"golang.org/x/term"

	echoapi "github.com/kpsipet/pengaduan/apps/api/echo"
	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
	"github.com/kpsipet/pengaduan/storage/database"
)

var (
	// mockable
	isTerminalFunc = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
	migrations     = map[string]func(*sql.DB) error{
		"up":        database.Migrate,
		"up-by-one": database.MigrateByOne,
		"down":      database.Rollback,
		"redo":      database.Redo,
	}

	errHelp      = errors.New("help provided")
	errNotPaired = errors.New("whatsapp is not paired, run `admin pair` first")
	errPairing   = errors.New("pairing failed, see the logs")
)

type (
	session interface {
		Connect() error
		AwaitChallenge(ctx context.Context, wait time.Duration) messaging.Status
		Status() messaging.Status
		QRCode() string
		Challenge() string
		SendMessage(ctx context.Context, phoneNumber, text string, att *messaging.Attachment) error
	}

	redeliverer interface {
		Redeliver(ctx context.Context) (complaint.RedeliveryReport, error)
	}

	commandLine struct {
		conf         *core.Config
		db           *sql.DB
		session      session
		complaintSvc redeliverer
		out          io.Writer

		resumeWait   time.Duration // how long a stored session may take to come back
		pollInterval time.Duration
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate up|up-by-one|down|redo                - run database migrations")
	fmt.Fprintln(cli.out, "  pair                                          - link WhatsApp by scanning a QR code")
	fmt.Fprintln(cli.out, "  send -phone PHONE -message TEXT [-file PDF]   - send a WhatsApp message")
	fmt.Fprintln(cli.out, "  redeliver                                     - retry the pending parent notifications")
	fmt.Fprintln(cli.out, "  token -user ID -username NAME [-email EMAIL]  - issue an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	sendCmd := flag.NewFlagSet("send", flag.ContinueOnError)
	sendCmd.SetOutput(cli.out)
	sendPhone := sendCmd.String("phone", "", "The recipient's phone number, eg. 08123456789.")
	sendMessage := sendCmd.String("message", "", "The text to send.")
	sendFile := sendCmd.String("file", "", "A PDF document to send after the text.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenUser := tokenCmd.Int("user", 0, "The administrator's ID.")
	tokenUname := tokenCmd.String("username", "", "The administrator's username.")
	tokenEmail := tokenCmd.String("email", "", "The administrator's email.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2])
	case "pair":
		return cli.pair(ctx)
	case "send":
		if err := sendCmd.Parse(args[2:]); err != nil {
			return err
		}
		if core.CleanString(*sendPhone) == "" || core.CleanString(*sendMessage) == "" {
			sendCmd.Usage()
			return errHelp
		}
		return cli.send(ctx, *sendPhone, *sendMessage, *sendFile)
	case "redeliver":
		return cli.redeliver(ctx)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser <= 0 || core.CleanString(*tokenUname) == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenUser, core.CleanString(*tokenUname, true /* lower */), core.CleanString(*tokenEmail, true /* lower */))
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) migrate(command string) error {
	migrate, ok := migrations[command]
	if !ok {
		commands := make([]string, 0, len(migrations))
		for c := range migrations {
			commands = append(commands, c)
		}
		sort.Strings(commands)
		return errors.Errorf("%q: no such command, expected one of %v", command, commands)
	}
	return migrate(cli.db)
}

// pair starts a session and shows every QR code until it is scanned.
func (cli *commandLine) pair(ctx context.Context) error {
	if err := cli.session.Connect(); err != nil {
		if errors.Cause(err) == messaging.ErrAlreadyConnected {
			fmt.Fprintln(cli.out, "WhatsApp is already connected")
			return nil
		}
		return err
	}

	ticker := time.NewTicker(cli.pollInterval)
	defer ticker.Stop()

	var shown string
	for {
		st := cli.session.Status()
		switch {
		case st.Ready:
			fmt.Fprintln(cli.out, "WhatsApp connected")
			return nil
		case st.State == messaging.StateDisconnected:
			return errPairing
		case st.HasQR:
			if ch := cli.session.Challenge(); ch != shown {
				if err := cli.printQR(ch); err != nil {
					return err
				}
				shown = ch
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (cli *commandLine) printQR(challenge string) error {
	fmt.Fprintln(cli.out, "Scan this QR code from WhatsApp > Linked devices:")
	if !isTerminalFunc() {
		fmt.Fprintln(cli.out, cli.session.QRCode())
		return nil
	}
	qr, err := qrcode.New(challenge, qrcode.Low)
	if err != nil {
		return errors.Wrap(err, "encoding qr code")
	}
	fmt.Fprint(cli.out, qr.ToSmallString(false))
	return nil
}

// resume reconnects the stored session and waits for it to be ready.
func (cli *commandLine) resume(ctx context.Context) error {
	if err := cli.session.Connect(); err != nil {
		switch errors.Cause(err) {
		case messaging.ErrAlreadyConnected, messaging.ErrAlreadyInitializing:
		default:
			return err
		}
	}
	st := cli.session.AwaitChallenge(ctx, cli.resumeWait)
	if !st.Ready {
		return errNotPaired
	}
	return nil
}

func (cli *commandLine) send(ctx context.Context, phoneNumber, message, file string) error {
	var att *messaging.Attachment
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrap(err, "reading file")
		}
		att = &messaging.Attachment{Data: data, Filename: filepath.Base(file)}
	}

	if err := cli.resume(ctx); err != nil {
		return err
	}
	if err := cli.session.SendMessage(ctx, phoneNumber, message, att); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "Message sent successfully")
	return nil
}

func (cli *commandLine) redeliver(ctx context.Context) error {
	if err := cli.resume(ctx); err != nil {
		return err
	}
	report, err := cli.complaintSvc.Redeliver(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(
		cli.out, "%d attempted, %d delivered, %d failed, %d dropped\n",
		report.Attempted, report.Delivered, report.Failed, report.Dropped,
	)
	return nil
}

func (cli *commandLine) token(userID int, username, email string) error {
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, userID, username, email))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
