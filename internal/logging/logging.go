package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a console logger tagged with the owning component.
func New(component string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
