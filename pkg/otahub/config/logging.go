package config

import "github.com/jamesainslie/otahub/pkg/otahub/logging"

// LogConfig converts the logging section for logging.Init. An empty or
// invalid max_size falls back to the default rotation size. console is the
// stderr mirror level ("" disables it).
func (l LoggingConfig) LogConfig(console string) logging.Config {
	return logging.Config{
		Level:        l.Level,
		Path:         l.Path,
		Rotation:     l.Rotation.logRotation(),
		Components:   l.Components,
		ConsoleLevel: console,
	}
}

func (r RotationConfig) logRotation() logging.RotationConfig {
	rot := logging.RotationConfig{
		MaxSize:    logging.DefaultRotationConfig().MaxSize,
		MaxAge:     r.MaxAge,
		MaxBackups: r.MaxBackups,
		Daily:      r.Daily,
	}
	if n, err := r.MaxSizeBytes(); err == nil && n > 0 {
		rot.MaxSize = n
	}
	return rot
}
