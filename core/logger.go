package core

// Logger is implemented by every logging backend of the app.
// args may carry errors, extra data maps and a Person.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the user on whose behalf something was logged.
type Person struct {
	ID       string
	Username string
	Email    string
}
