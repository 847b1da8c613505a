package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/kpsipet/pengaduan/core"
)

// RollbarLogger prints every entry to std and reports it to Rollbar when enabled.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetServerRoot("github.com/kpsipet/pengaduan")
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Wait blocks until every queued report is sent.
func (l RollbarLogger) Wait() {
	rollbar.Wait()
}

// expected fmt: msg | error, map[string]interface{}, core.Person
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, *core.Person) {
	var person *core.Person
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		if p, ok := arg.(core.Person); ok {
			if person == nil { // only set one Person
				p := p
				person = &p
			}
			continue
		}
		newArgs = append(newArgs, arg)
	}
	if person != nil {
		rollbar.SetPerson(person.ID, person.Username, person.Email)
	} else {
		rollbar.ClearPerson()
	}
	return newArgs, person
}

func (l RollbarLogger) print(level, msg string, args []interface{}, person *core.Person) {
	if person != nil {
		l.std.Printf("%s: %s [person: %s]", level, msg, person.Username)
	} else {
		l.std.Printf("%s: %s", level, msg)
	}
	// stack traces go to Rollbar only
	for _, arg := range args[1:] {
		l.std.Printf("%v", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	newArgs, person := l.prepare(msg, args)
	rollbar.Debug(newArgs...)
	l.print("DEBUG", msg, newArgs, person)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	newArgs, person := l.prepare(msg, args)
	rollbar.Info(newArgs...)
	l.print("INFO", msg, newArgs, person)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	newArgs, person := l.prepare(msg, args)
	rollbar.Warning(newArgs...)
	l.print("WARN", msg, newArgs, person)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	newArgs, person := l.prepare(msg, args)
	rollbar.Error(newArgs...)
	l.print("ERROR", msg, newArgs, person)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	newArgs, person := l.prepare(msg, args)
	rollbar.Critical(newArgs...)
	l.print("FATAL", msg, newArgs, person)
	rollbar.Wait()
	l.std.Fatal(msg)
}
