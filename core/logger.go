package core

// Logger is the application logging contract.
// expected args: error, map[string]interface{}, user.User (for error reporting)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
