package repository

import (
	"github.com/okian/rollcall/pkg/logger"
)

const (
	defaultKeyPrefix     = "rollcall"
	defaultNotifyChannel = "rollcall_registrations"
)

type options struct {
	logger        logger.Logger
	keyPrefix     string
	notifyChannel string
}

func buildOptions(component string, opts []Option) options {
	o := options{keyPrefix: defaultKeyPrefix, notifyChannel: defaultNotifyChannel}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrGlobal(o.logger, component)
	return o
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithKeyPrefix namespaces Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithNotifyChannel names the Postgres NOTIFY / Redis PUBLISH channel used
// for change signals.
func WithNotifyChannel(name string) Option {
	return func(o *options) {
		if name != "" {
			o.notifyChannel = name
		}
	}
}
