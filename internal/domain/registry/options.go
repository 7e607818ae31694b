package registry

import "log/slog"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithNotifyBuffer sets the capacity of the presence change stream.
// Once it is full, further changes are dropped until the consumer catches up.
func WithNotifyBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.notifyBuffer = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}
