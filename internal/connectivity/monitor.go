package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober answers whether the server-of-record looks reachable right now.
// It is advisory: a passing probe does not guarantee the next write succeeds.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber checks a lightweight endpoint, typically CouchDB's /_up.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		URL:     url,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor is the single source of truth for "can I reach the server right
// now". Transition handlers fire once per edge and run serially on one
// dispatch goroutine, so they never overlap.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	handlers []func(online bool)

	prober   Prober
	interval time.Duration
	log      zerolog.Logger

	events chan bool
	stop   chan struct{}
	done   chan struct{}
}

func NewMonitor(prober Prober, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      log.With().Str("component", "connectivity").Logger(),
		events:   make(chan bool, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnTransition registers a handler for online/offline edges. Handlers
// registered after Start still receive subsequent edges.
func (m *Monitor) OnTransition(h func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// SetOnline records a state reported by the platform or the probe loop.
// Repeated reports of the same state are ignored; only edges dispatch.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	select {
	case m.events <- online:
	default:
		m.log.Warn().Bool("online", online).Msg("transition event dropped, dispatch backlog full")
	}
}

// Start runs the dispatch loop and, when a prober is configured, the probe
// loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go m.dispatch()

	if m.prober == nil || m.interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.prober.Probe(ctx))
		for {
			select {
			case <-ticker.C:
				m.SetOnline(m.prober.Probe(ctx))
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) dispatch() {
	defer close(m.done)
	for {
		select {
		case online := <-m.events:
			if online {
				m.log.Info().Msg("back online")
			} else {
				m.log.Info().Msg("gone offline, mutations will queue")
			}
			m.mu.Lock()
			handlers := make([]func(bool), len(m.handlers))
			copy(handlers, m.handlers)
			m.mu.Unlock()
			for _, h := range handlers {
				h(online)
			}
		case <-m.stop:
			return
		}
	}
}
