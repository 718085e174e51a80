package config

import (
	"fmt"

	"github.com/HerbHall/nasguard/internal/version"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates the process logger from Viper settings:
//
//	logging.level   debug, info, warn, error (default info)
//	logging.format  json, console (default json)
//	logging.output  stderr, stdout or a file path (default stderr)
//
// Every entry carries service and version fields. The returned level is
// shared with the logger, so changing it (see server.LogLevelRoute) takes
// effect on every named child without a restart.
func NewLogger(v *viper.Viper) (*zap.Logger, zap.AtomicLevel, error) {
	level := v.GetString("logging.level")
	format := v.GetString("logging.format")

	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, atom, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
		// Poll loops log per cycle; sampling would hide per-device failures.
		cfg.Sampling = nil
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, atom, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", format)
	}

	cfg.Level = atom
	if out := v.GetString("logging.output"); out != "" {
		cfg.OutputPaths = []string{out}
	}

	logger, err := cfg.Build(zap.Fields(
		zap.String("service", "nasguard"),
		zap.String("version", version.Short()),
	))
	if err != nil {
		return nil, atom, fmt.Errorf("build logger: %w", err)
	}
	return logger, atom, nil
}
