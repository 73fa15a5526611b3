// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	log "github.com/sirupsen/logrus"
)

type options struct {
	logger *log.Entry
	debug  bool
}

// Option configures pools and worker threads
type Option func(*options)

// WithLogger sets the logger components derive their entries from
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDebug turns synchronization misuse into panics
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

func newOptions(component string, opts []Option) options {
	o := options{logger: log.NewEntry(log.StandardLogger())}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithField("component", component)
	return o
}
