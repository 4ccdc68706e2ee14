// Package discovery advertises the relay on the local network over mDNS so
// screens and controllers can find it without typing an address.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/controlrelay/internal/platform/retry"
	"github.com/pscheid92/controlrelay/internal/platform/version"
)

const defaultDomain = "local."

// Config describes the advertised service.
type Config struct {
	Instance   string
	Service    string
	Port       int
	Path       string
	Namespaces []string
}

// registration is the live mDNS announcement.
type registration interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Advertiser owns one mDNS registration for the lifetime of Run.
type Advertiser struct {
	cfg      Config
	register registerFunc
	policy   retry.Policy

	mu     sync.Mutex
	active registration
}

func NewAdvertiser(cfg Config, clock clockwork.Clock) *Advertiser {
	return &Advertiser{
		cfg:      cfg,
		register: zeroconfRegister,
		policy: retry.Policy{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			SlowBackoff:    2 * time.Second,
			MaxBackoff:     5 * time.Second,
			Clock:          clock,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("mDNS registration failed, retrying", "attempt", attempt, "error", err, "backoff", backoff)
			},
		},
	}
}

// Run registers the service, keeps it announced until ctx is done and then
// withdraws it. Registration failures are retried; a final failure is returned.
func (a *Advertiser) Run(ctx context.Context) error {
	text := a.txtRecords(a.cfg.Namespaces)

	reg, err := retry.Do(ctx, a.policy, classifyRegisterError, func() (registration, error) {
		return a.register(a.cfg.Instance, a.cfg.Service, defaultDomain, a.cfg.Port, text)
	})
	if err != nil {
		return fmt.Errorf("advertise %s.%s: %w", a.cfg.Instance, a.cfg.Service, err)
	}

	a.mu.Lock()
	a.active = reg
	a.mu.Unlock()
	slog.Info("Service advertised over mDNS", "instance", a.cfg.Instance, "service", a.cfg.Service, "port", a.cfg.Port)

	<-ctx.Done()

	a.mu.Lock()
	a.active = nil
	a.mu.Unlock()
	reg.Shutdown()
	slog.Info("mDNS advertisement withdrawn", "instance", a.cfg.Instance)
	return nil
}

// UpdateNamespaces refreshes the TXT record after the namespace set changed.
func (a *Advertiser) UpdateNamespaces(namespaces []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return
	}
	a.active.SetText(a.txtRecords(namespaces))
}

func (a *Advertiser) txtRecords(namespaces []string) []string {
	return []string{
		"name=" + a.cfg.Instance,
		"port=" + strconv.Itoa(a.cfg.Port),
		"path=" + a.cfg.Path,
		"namespaces=" + strings.Join(namespaces, ","),
		"version=" + version.Version,
	}
}

// Bad instance or service names never succeed on retry. A host without a
// usable multicast interface is usually still bringing its network up.
func classifyRegisterError(err error) retry.Action {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "missing service instance name"),
		strings.Contains(msg, "missing service name"),
		strings.Contains(msg, "missing port"):
		return retry.Stop
	case strings.Contains(msg, "no supported interface"),
		strings.Contains(msg, "could not determine host"):
		return retry.Later
	}
	return retry.Retry
}
