// Package shim is the adapter-side dispatch guard. It intercepts every tool
// invocation, obtains a decision from the control plane, blocks on pending
// approvals, and enforces fail-closed behavior when the control plane cannot
// answer.
package shim

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Defaults for the shim's timing knobs.
const (
	defaultDeadline     = 300 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultReuseWindow  = 600 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
	defaultMaxRetries   = 2
	retryBackoffMin     = 500 * time.Millisecond
	retryBackoffMax     = 4 * time.Second
)

// Options configure a Shim. Zero values take the documented defaults.
type Options struct {
	// BaseURL is the control plane address, e.g. "http://127.0.0.1:8081".
	BaseURL string
	// Token is the adapter JWT presented as X-Adapter-Token.
	Token string
	// AdapterID identifies this dispatcher.
	AdapterID string

	// ApprovalDeadline bounds the pending poll loop. Default 300s.
	ApprovalDeadline time.Duration
	// PollInterval is the pending poll cadence. Default 2s.
	PollInterval time.Duration
	// ReuseWindow is the fingerprint reuse TTL. Default 600s.
	ReuseWindow time.Duration
	// HTTPTimeout bounds each control plane request. Default 10s.
	HTTPTimeout time.Duration
	// MaxRetries caps transport retries for idempotent reads and 5xx
	// responses. Default 2.
	MaxRetries int

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (o *Options) validate() error {
	if o.BaseURL == "" {
		return errors.New("shim: BaseURL is required")
	}
	if o.AdapterID == "" {
		return errors.New("shim: AdapterID is required")
	}
	if o.Token == "" {
		return errors.New("shim: Token is required")
	}
	return nil
}

func (o *Options) withDefaults() {
	if o.ApprovalDeadline <= 0 {
		o.ApprovalDeadline = defaultDeadline
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ReuseWindow <= 0 {
		o.ReuseWindow = defaultReuseWindow
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = defaultHTTPTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.HTTPTimeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
