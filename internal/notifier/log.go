package notifier

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the log instead of sending them. Used
// in development and in tests.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, kind, recipient string, data map[string]string) error {
	n.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"recipient": recipient,
		"data":      data,
	}).Info("notification (log mode)")
	return nil
}
