package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

// announcementBuffer bounds the delivery channel. Consumers that fall
// behind lose the oldest announcements on a busy network; every device
// re-announces, so nothing is permanently missed.
const announcementBuffer = 16

// Announcement is one device observation from the local network.
type Announcement struct {
	// Address is the device's debug endpoint in host:port form.
	Address string

	// Name is the mDNS instance name, usable as a display name.
	Name string
}

// Logger defines the logging interface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Browser continuously watches the local network for devices
// advertising a network debug service and delivers each sighting as an
// Announcement. Duplicate sightings are delivered as-is; consumers
// deduplicate.
type Browser struct {
	service string
	domain  string
	logger  Logger

	announcements chan Announcement

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBrowser creates a browser for the configured service type.
func NewBrowser(cfg config.DiscoveryConfig) *Browser {
	service := cfg.Service
	if service == "" {
		service = "_adb-tls-connect._tcp"
	}
	domain := cfg.Domain
	if domain == "" {
		domain = "local."
	}
	return &Browser{
		service:       service,
		domain:        domain,
		logger:        noopLogger{},
		announcements: make(chan Announcement, announcementBuffer),
		done:          make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (b *Browser) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Announcements returns the channel of device observations. Closed when
// the browser stops.
func (b *Browser) Announcements() <-chan Announcement {
	return b.announcements
}

// Start begins browsing. Browsing runs until Stop is called or the
// context is cancelled.
func (b *Browser) Start(ctx context.Context) error {
	var startErr error
	b.startOnce.Do(func() {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			startErr = fmt.Errorf("discovery: creating resolver: %w", err)
			close(b.done)
			return
		}

		ctx, b.cancel = context.WithCancel(ctx)

		entries := make(chan *zeroconf.ServiceEntry)
		go b.collect(entries)

		if err := resolver.Browse(ctx, b.service, b.domain, entries); err != nil {
			b.cancel()
			startErr = fmt.Errorf("discovery: browsing %s: %w", b.service, err)
			return
		}

		b.logger.Info("discovery started", "service", b.service, "domain", b.domain)
	})
	return startErr
}

// Stop halts browsing and closes the announcement channel. Idempotent.
func (b *Browser) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
			// zeroconf closes the entries channel on context
			// cancellation; collect closes done after draining it.
			<-b.done
		}
		close(b.announcements)
	})
}

// collect converts raw service entries into announcements.
func (b *Browser) collect(entries <-chan *zeroconf.ServiceEntry) {
	defer close(b.done)

	for entry := range entries {
		ann, ok := announcementFromEntry(entry)
		if !ok {
			b.logger.Debug("discovery entry without usable address", "instance", entry.Instance)
			continue
		}

		select {
		case b.announcements <- ann:
		default:
			b.logger.Debug("discovery consumer busy, announcement dropped",
				"address", ann.Address,
			)
		}
	}
}

// announcementFromEntry extracts the connectable address from a service
// entry. IPv4 is preferred; entries without any address are unusable.
func announcementFromEntry(entry *zeroconf.ServiceEntry) (Announcement, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Announcement{}, false
	}
	if entry.Port <= 0 {
		return Announcement{}, false
	}

	return Announcement{
		Address: net.JoinHostPort(host, strconv.Itoa(entry.Port)),
		Name:    entry.Instance,
	}, true
}
