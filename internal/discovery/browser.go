package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
)

// Browser defaults.
const (
	// DefaultServiceType is the service type BasicR3 devices advertise.
	DefaultServiceType = "_ewelink._tcp"

	// DefaultDomain is the mDNS browse domain.
	DefaultDomain = "local."

	// DefaultRescanInterval is how long one browse query runs before it is
	// restarted.
	DefaultRescanInterval = 5 * time.Minute

	// missLimit is how many whole rescans a service may be absent from
	// before it is reported as disappeared.
	missLimit = 2
)

// EventType distinguishes appearance from departure.
type EventType int

// Event types.
const (
	ServiceAppeared EventType = iota + 1
	ServiceDisappeared
)

// String returns "appeared" or "disappeared".
func (t EventType) String() string {
	switch t {
	case ServiceAppeared:
		return "appeared"
	case ServiceDisappeared:
		return "disappeared"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one discovery notification.
type Event struct {
	Type    EventType
	Service Service
}

// Browser emits discovery events until ctx is cancelled.
type Browser interface {
	// Browse blocks until ctx is done. Events are sent on events; Browse
	// never closes it.
	Browse(ctx context.Context, events chan<- Event) error
}

// resolver is the part of *zeroconf.Resolver the browser uses.
type resolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

func newZeroconfResolver() (resolver, error) {
	return zeroconf.NewResolver(nil)
}

// ZeroconfBrowser browses with grandcat/zeroconf.
//
// A zeroconf resolver reports each instance once per query and ignores
// goodbye packets, so the browser restarts its query every rescan interval.
// A service that changed since the last report is emitted again, and a
// service missing from consecutive rescans is reported as disappeared.
type ZeroconfBrowser struct {
	serviceType string
	domain      string
	rescan      time.Duration
	logger      Logger
	now         func() time.Time
	newResolver func() (resolver, error)
}

// BrowserOptions configures a ZeroconfBrowser. Zero values select defaults.
type BrowserOptions struct {
	ServiceType    string
	Domain         string
	RescanInterval time.Duration
	Logger         Logger
}

// NewZeroconfBrowser creates a browser for opts.ServiceType.
func NewZeroconfBrowser(opts BrowserOptions) *ZeroconfBrowser {
	b := &ZeroconfBrowser{
		serviceType: opts.ServiceType,
		domain:      opts.Domain,
		rescan:      opts.RescanInterval,
		logger:      opts.Logger,
		now:         time.Now,
		newResolver: newZeroconfResolver,
	}
	if b.serviceType == "" {
		b.serviceType = DefaultServiceType
	}
	if b.domain == "" {
		b.domain = DefaultDomain
	}
	if b.rescan <= 0 {
		b.rescan = DefaultRescanInterval
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b
}

// Browse implements Browser. Resolver failures are logged and retried on
// the next rescan; Browse only returns when ctx is done.
func (b *ZeroconfBrowser) Browse(ctx context.Context, events chan<- Event) error {
	known := make(map[string]Service)
	misses := make(map[string]int)

	b.logger.Info("browsing for devices", "service_type", b.serviceType, "domain", b.domain, "rescan", b.rescan)

	for {
		seen, err := b.query(ctx, known, events)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.logger.Error("mDNS browse failed", "service_type", b.serviceType, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.rescan):
			}
			continue
		}

		for name, svc := range known {
			if _, ok := seen[name]; ok {
				delete(misses, name)
				continue
			}
			misses[name]++
			if misses[name] < missLimit {
				continue
			}
			delete(known, name)
			delete(misses, name)
			send(ctx, events, Event{Type: ServiceDisappeared, Service: svc})
		}
	}
}

// query runs one browse for the rescan interval and returns the instance
// names seen.
func (b *ZeroconfBrowser) query(ctx context.Context, known map[string]Service, events chan<- Event) (map[string]struct{}, error) {
	r, err := b.newResolver()
	if err != nil {
		return nil, fmt.Errorf("%w: creating resolver: %w", ErrBrowse, err)
	}

	qctx, cancel := context.WithTimeout(ctx, b.rescan)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := r.Browse(qctx, b.serviceType, b.domain, entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowse, err)
	}

	seen := make(map[string]struct{})
	// The resolver closes entries when qctx ends; drain until then.
	for entry := range entries {
		if entry == nil {
			continue
		}
		svc := serviceFromEntry(entry, b.now())
		seen[svc.Name] = struct{}{}

		if prev, ok := known[svc.Name]; ok && sameAdvertisement(prev, svc) {
			continue
		}
		known[svc.Name] = svc
		send(ctx, events, Event{Type: ServiceAppeared, Service: svc})
	}
	return seen, nil
}

func send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
