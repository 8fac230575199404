package sio

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package log sink. Debug-level packet tracing is emitted
// beneath it; unhandled socket errors are reported at error level.
// Replace it (or raise its level) to integrate with an application
// logger:
//
//	sio.Logger = log.With().Str("subsystem", "socketio").Logger()
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().Timestamp().Logger().
	Level(zerolog.WarnLevel)

func componentLog(name string) func() *zerolog.Logger {
	return func() *zerolog.Logger {
		l := Logger.With().Str("component", "socket.io:"+name).Logger()
		return &l
	}
}

var (
	serverLog    = componentLog("server")
	clientLog    = componentLog("client")
	namespaceLog = componentLog("namespace")
	socketLog    = componentLog("socket")
	adapterLog   = componentLog("adapter")
)
