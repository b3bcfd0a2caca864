package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer; nil means Nop.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logger() *zerolog.Logger {
	if zlog == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return zlog
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var envLogLevel, envLogLevelSet = os.LookupEnv("GENIED_LOG_LEVEL")

var defaultLogLevel = func() LogLevel {
	if envLogLevelSet {
		return parseLevel(envLogLevel)
	}
	return LevelInfo
}()

func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// reqLogger returns a logger tagged with the request id and the level filter
// of r applied.
func reqLogger(r *http.Request) zerolog.Logger {
	l := logger().With().Str("path", r.URL.Path).Logger()
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	if !envLogLevelSet && r.URL.Query().Get("log") == "" && r.Header.Get("X-Log-Level") == "" {
		// No override: the root logger's level applies.
		return l
	}
	switch requestLogLevel(r) {
	case LevelOff:
		return l.Level(zerolog.Disabled)
	case LevelError:
		return l.Level(zerolog.ErrorLevel)
	case LevelInfo:
		return l.Level(zerolog.InfoLevel)
	default:
		return l.Level(zerolog.DebugLevel)
	}
}
