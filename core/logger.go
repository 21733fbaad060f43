package core

// Actor identifies the authenticated principal on whose behalf an error
// occurred; loggers may tag reports with it.
type Actor struct {
	ID       string
	Username string
}

// Logger is any leveled logger the services can report through.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
