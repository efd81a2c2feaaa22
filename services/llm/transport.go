// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 120 * time.Second
)

// newHTTPClient returns a client whose dial and TLS handshake are bounded by
// connectTimeout and whose wait for response headers is bounded by
// readTimeout. Body reads are bounded by the callers.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout

	return &http.Client{Transport: transport}
}

// idleWatchdog cancels a stream when no data arrives for timeout.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func watchIdle(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		cancel()
	})
	return w
}

// Touch restarts the countdown after data was received.
func (w *idleWatchdog) Touch() { w.timer.Reset(w.timeout) }

func (w *idleWatchdog) Stop() { w.timer.Stop() }

// Fired reports whether the stream was cancelled for inactivity.
func (w *idleWatchdog) Fired() bool { return w.fired.Load() }
