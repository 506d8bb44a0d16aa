package app

import (
	"strconv"
	"strings"

	"bosstracker/internal/config"
	logx "bosstracker/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// applyLogTarget points the chat sink at telegram.group_log (0 clears it).
func applyLogTarget(logs *logx.Service, cfg *config.Config) {
	var chatID int64
	if raw := strings.TrimSpace(cfg.Telegram.GroupLog); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			chatID = id
		}
	}
	logs.SetChatTarget(chatID, cfg.Logging.Telegram.ThreadID)
}
