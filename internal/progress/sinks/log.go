package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/progress"
)

// LogSink writes every event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		switch evt.Stage {
		case progress.StagePage:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.Int("depth", evt.Depth),
				zap.Bool("success", evt.Success),
			)
		case progress.StageJobDone:
			fields = append(fields,
				zap.String("status", string(evt.Status)),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
