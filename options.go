// options.go: Runtime collaborators of cipher files.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"log/slog"
	"runtime"
)

// Option configures the runtime collaborators of a cipher file. Options are
// never persisted.
type Option func(*options)

type options struct {
	provider PrimitiveProvider
	hashes   HashProvider
	erase    ErasePolicy
	fs       FileSystem
	logger   *slog.Logger
	workers  int
}

func defaultOptions() options {
	return options{
		provider: DefaultProviders(),
		hashes:   DefaultHashProvider,
		erase:    SecureErase,
		fs:       OSFileSystem(),
		logger:   slog.New(slog.DiscardHandler),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithProvider sets the cipher primitive provider.
func WithProvider(p PrimitiveProvider) Option {
	return func(o *options) {
		if p != nil {
			o.provider = p
		}
	}
}

// WithHashProvider sets the key commitment hash provider.
func WithHashProvider(h HashProvider) Option {
	return func(o *options) {
		if h != nil {
			o.hashes = h
		}
	}
}

// WithErasePolicy sets how resident keys are destroyed on lock.
func WithErasePolicy(e ErasePolicy) Option {
	return func(o *options) {
		if e != nil {
			o.erase = e
		}
	}
}

// WithFileSystem sets the filesystem used for containers and spill files.
func WithFileSystem(fs FileSystem) Option {
	return func(o *options) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWorkers sets the worker count containers use for unpadded ciphers.
// Zero means runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.workers = n
		}
	}
}

func (o *options) workerCount() int {
	if o.workers > 0 {
		return o.workers
	}
	return runtime.NumCPU()
}
