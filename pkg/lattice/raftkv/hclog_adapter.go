package raftkv

import (
	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// newHCLogAdapter routes raft's internal hclog output through the host's
// zerolog logger so a Raft instance's leader-election chatter shows up
// alongside every other component's structured logs instead of its own
// stderr stream.
func newHCLogAdapter(logger zerolog.Logger) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Info,
		Output: &zerologWriter{logger: logger},
	})
}

type zerologWriter struct {
	logger zerolog.Logger
}

func (w *zerologWriter) Write(p []byte) (int, error) {
	w.logger.Info().Msg(string(p))
	return len(p), nil
}
