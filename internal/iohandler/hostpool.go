package iohandler

import (
	"net/url"
	"sync"
	"time"

	"github.com/segin/psymp3-demux/pkg/httpclient"
)

// defaultHostEntryCap, multiplied by maxTrackedHosts, bounds how many
// hosts the pool tracks at once. Each host holds a single pooled client.
const defaultHostEntryCap = 4

// defaultHostEntryTTL is how long an idle pooled client survives before
// the sweeper evicts it.
const defaultHostEntryTTL = 2 * time.Minute

const sweepInterval = 30 * time.Second

// HostPool is a host-keyed pool of resilient HTTP clients: a
// sync.Mutex-guarded name->*Client map holding one client per host,
// extended with a bound on tracked hosts and a background sweeper that
// evicts idle entries.
type HostPool struct {
	mu      sync.Mutex
	hosts   map[string]*hostEntry
	cap     int
	ttl     time.Duration
	stop    chan struct{}
	stopped bool
}

type hostEntry struct {
	client   *httpclient.Client
	lastUsed time.Time
}

// NewHostPool starts a HostPool with its sweeper goroutine running.
// Call Close to stop the sweeper.
func NewHostPool() *HostPool {
	p := &HostPool{
		hosts: make(map[string]*hostEntry),
		cap:   defaultHostEntryCap,
		ttl:   defaultHostEntryTTL,
		stop:  make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// DefaultHostPool is the package-level pool used by HTTPSource when the
// caller doesn't supply one, matching pkg/httpclient's DefaultRegistry
// convention.
var DefaultHostPool = NewHostPool()

// ClientFor returns the pooled client for req's host, creating one if
// needed and evicting the least recently used host once the
// tracked-host bound is reached. Clients are minted through httpclient.DefaultFactory
// so the circuit breaker is keyed and shared by host through
// httpclient.DefaultManager, and registered in httpclient.DefaultRegistry
// for health/debug inspection (see HostPool.CircuitBreakerStatuses).
func (p *HostPool) ClientFor(req *url.URL, cfg httpclient.Config) *httpclient.Client {
	host := req.Hostname()

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.hosts[host]; ok {
		e.lastUsed = time.Now()
		return e.client
	}

	if len(p.hosts) >= p.cap*maxTrackedHosts {
		// Global safety valve: never grow unbounded even across many
		// distinct hosts.
		p.evictOldestLocked()
	}

	c := httpclient.DefaultFactory.CreateClientWithConfig(host, cfg)
	httpclient.DefaultRegistry.Register(host, c)
	p.hosts[host] = &hostEntry{client: c, lastUsed: time.Now()}
	return c
}

// CircuitBreakerStatuses reports the current circuit breaker state for
// every host this pool has ever dialed, for diagnostic logging.
func (p *HostPool) CircuitBreakerStatuses() []httpclient.CircuitBreakerStatus {
	return httpclient.DefaultRegistry.GetCircuitBreakerStatuses()
}

// maxTrackedHosts is a coarse multiplier bounding total tracked hosts
// relative to the per-host cap, since this pool indexes by host rather
// than by a fixed slot count.
const maxTrackedHosts = 64

func (p *HostPool) evictOldestLocked() {
	var oldestHost string
	var oldestTime time.Time
	for h, e := range p.hosts {
		if oldestHost == "" || e.lastUsed.Before(oldestTime) {
			oldestHost = h
			oldestTime = e.lastUsed
		}
	}
	if oldestHost != "" {
		delete(p.hosts, oldestHost)
		httpclient.DefaultRegistry.Unregister(oldestHost)
	}
}

func (p *HostPool) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

func (p *HostPool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for h, e := range p.hosts {
		if now.Sub(e.lastUsed) > p.ttl {
			delete(p.hosts, h)
			httpclient.DefaultRegistry.Unregister(h)
		}
	}
}

// Close stops the sweeper goroutine. Idempotent.
func (p *HostPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}

// Len reports how many hosts are currently pooled. Used by tests.
func (p *HostPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}
