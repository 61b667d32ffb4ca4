package application

import "log/slog"

const logModule = "platform-reliability/outbox-service"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
