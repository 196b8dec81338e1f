package messaging

import (
	"context"

	"github.com/wolfman30/sara-leads/pkg/logging"
)

// LogSender logs outbound messages instead of sending them. Local runs
// without Twilio credentials use it.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) Send(ctx context.Context, to, body string) error {
	s.logger.Info("log sender: would send whatsapp", "to", to, "chars", len([]rune(body)))
	return nil
}
