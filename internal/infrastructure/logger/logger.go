package logger

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	// Service and Environment are attached to every entry when set
	Service     string
	Environment string
	// Component names the process role (server, worker, migrate)
	Component string
}

const defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var levels = map[string]zapcore.Level{
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
	"fatal":   zapcore.FatalLevel,
}

// New builds the process logger. Extra cores, such as the OpenTelemetry
// log bridge, receive every entry too.
func New(cfg *Config, extra ...zapcore.Core) (*zap.Logger, error) {
	c := Config{Level: "info", Format: "console"}
	if cfg != nil {
		c = *cfg
	}
	if c.Output == "" {
		c.Output = "stdout"
	}

	// zap.Open understands stdout and stderr as well as file paths
	sink, _, err := zap.Open(c.Output)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", c.Output, err)
	}

	cores := append([]zapcore.Core{zapcore.NewCore(encoder(c), sink, parseLevel(c.Level))}, extra...)
	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	var fields []zap.Field
	for _, f := range [][2]string{{"service", c.Service}, {"env", c.Environment}, {"component", c.Component}} {
		if f[1] != "" {
			fields = append(fields, zap.String(f[0], f[1]))
		}
	}
	return log.With(fields...), nil
}

func parseLevel(level string) zapcore.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return zapcore.InfoLevel
}

func encoder(c Config) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.MessageKey = "msg"
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	layout := c.TimeFormat
	if layout == "" {
		layout = defaultTimeFormat
	}
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(layout)

	if c.Format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// Sync flushes buffered entries. Terminals and pipes reject fsync; that is
// not reported.
func Sync(log *zap.Logger) error {
	err := log.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}
