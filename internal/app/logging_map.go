package app

import (
	"strings"

	"routined/internal/config"
	"routined/internal/notify/telegram"
	"routined/internal/observability/debug"
	logx "routined/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Routines: logx.ChannelConfig{
			Enabled: l.Routines.Enabled,
			Dir:     l.Routines.Dir,
			Keep:    l.Routines.Keep,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// newLogSender returns nil when no Telegram target is configured. The sender
// is built whenever token and chat are set so that enabling the sink later
// through a reload works without a restart.
func newLogSender(cfg *config.Config) (logx.Sender, error) {
	t := cfg.Logging.Telegram
	if strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
		return nil, nil
	}
	s, err := telegram.New(telegram.Config{Token: t.Token, ChatID: t.ChatID, ThreadID: t.ThreadID})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{
		Enabled:              d.Enabled,
		Address:              d.Address,
		Token:                d.Token,
		BlockProfileRate:     d.BlockProfileRate,
		MutexProfileFraction: d.MutexProfileFraction,
	}
}
