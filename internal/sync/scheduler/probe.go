package scheduler

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
)

// SettingsReader supplies the configured server URL.
type SettingsReader interface {
	GetSettings(ctx context.Context) (models.Settings, error)
}

// StatusSink receives reachability results.
type StatusSink interface {
	SetOnlineStatus(isOnline bool)
}

// ConnectivityProbe periodically dials the configured server host and
// reports whether it is reachable. With no server configured it reports
// nothing.
type ConnectivityProbe struct {
	settings SettingsReader
	sink     StatusSink
	interval time.Duration
	dialer   *net.Dialer
}

// NewConnectivityProbe creates a probe. A non-positive interval means 30 seconds.
func NewConnectivityProbe(settings SettingsReader, sink StatusSink, interval time.Duration) *ConnectivityProbe {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ConnectivityProbe{
		settings: settings,
		sink:     sink,
		interval: interval,
		dialer:   &net.Dialer{Timeout: 5 * time.Second},
	}
}

// Run checks once immediately, then on every interval until ctx is done.
func (p *ConnectivityProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check dials the server once and reports the result to the sink. It returns
// false without reporting when no server is configured.
func (p *ConnectivityProbe) Check(ctx context.Context) bool {
	settings, err := p.settings.GetSettings(ctx)
	if err != nil {
		logging.Warn("Connectivity probe could not read settings", map[string]interface{}{"error": err.Error()})
		return false
	}
	addr, ok := dialAddress(settings.SyncServerURL)
	if !ok {
		return false
	}

	online := true
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logging.Debug("Sync server unreachable", map[string]interface{}{"addr": addr, "error": err.Error()})
		online = false
	} else {
		conn.Close()
	}

	p.sink.SetOnlineStatus(online)
	return true
}

// dialAddress turns a server URL into host:port, defaulting the port from
// the scheme.
func dialAddress(serverURL string) (string, bool) {
	if serverURL == "" {
		return "", false
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		default:
			return "", false
		}
	}
	return net.JoinHostPort(u.Hostname(), port), true
}
