package pipeline

import (
	"log/slog"
	"time"

	"github.com/ktrn-dev/pipeline-client/internal/connection"
)

// Handler receives decoded messages.
type Handler func(Message)

type observer struct {
	handle Handler
	logger *slog.Logger
	now    func() time.Time
}

// NewObserver adapts fn into a connection.Observer that decodes each text
// frame. Frames that fail to decode are logged and dropped.
func NewObserver(fn Handler, logger *slog.Logger) connection.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &observer{
		handle: fn,
		logger: logger.With("component", "pipeline"),
		now:    time.Now,
	}
}

func (o *observer) OnText(text string) {
	msg, err := Decode([]byte(text), o.now())
	if err != nil {
		o.logger.Warn("dropping undecodable frame", "error", err, "size", len(text))
		return
	}
	o.handle(msg)
}

func (o *observer) OnBinary(data []byte) {
	o.logger.Debug("ignoring binary frame", "size", len(data))
}
