package apperr

import (
	"context"
	"log/slog"
)

// Level maps severity to a slog level.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Log writes err with its code, severity and correlation id at the level
// implied by its severity.
func Log(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	e := From(err)

	all := make([]slog.Attr, 0, len(attrs)+6)
	all = append(all,
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind)),
		slog.String("severity", e.Severity.String()),
		slog.String("correlation_id", e.CorrelationID),
		slog.String("error", err.Error()),
	)

	if e.Severity == SeverityCritical {
		all = append(all, slog.Bool("critical", true))
	}

	all = append(all, attrs...)

	logger.LogAttrs(ctx, e.Severity.Level(), msg, all...)
}
