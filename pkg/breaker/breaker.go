// Package breaker protects ad network endpoints with per-network circuit breakers
package breaker

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Circuit breaker states
const (
	StateClosed   = "closed"    // Normal operation
	StateOpen     = "open"      // Failing, rejecting loads
	StateHalfOpen = "half-open" // Probing whether the network recovered
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyConcurrent is returned when MaxConcurrent is reached
var ErrTooManyConcurrent = errors.New("max concurrent requests exceeded")

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	SuccessThreshold int           // Successes in half-open before closing
	Timeout          time.Duration // Time spent open before probing
	MaxConcurrent    int           // 0 = unlimited

	// IsFailure decides whether an error counts against the network.
	// Nil counts every non-nil error.
	IsFailure func(error) bool

	OnStateChange func(name, from, to string)
}

// DefaultConfig returns sensible defaults for an ad network
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		MaxConcurrent:    200,
	}
}

// Breaker implements the circuit breaker pattern for a single network
type Breaker struct {
	name   string
	config *Config

	mu              sync.RWMutex
	state           string
	failures        int
	successes       int
	lastFailureTime time.Time
	concurrent      int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64

	callbackWg sync.WaitGroup
}

// New creates a breaker for the named network
func New(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Name returns the network the breaker guards
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn with circuit breaker protection
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureTime) <= b.config.Timeout {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.concurrent++
		return nil

	case StateHalfOpen:
		// One probe at a time
		if b.concurrent >= 1 {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.concurrent++
		return nil
	}

	if b.config.MaxConcurrent > 0 && b.concurrent >= b.config.MaxConcurrent {
		b.totalRejected++
		return ErrTooManyConcurrent
	}
	b.concurrent++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.concurrent--

	failed := err != nil
	if failed && b.config.IsFailure != nil {
		failed = b.config.IsFailure(err)
	}

	if failed {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	b.totalFailures++
	b.failures++
	b.successes = 0
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.totalSuccesses++
	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
	}
}

// setState must be called with mu held
func (b *Breaker) setState(newState string) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.successes = 0

	if b.config.OnStateChange != nil {
		b.callbackWg.Add(1)
		go func(from, to string) {
			defer b.callbackWg.Done()
			b.config.OnStateChange(b.name, from, to)
		}(oldState, newState)
	}
}

// State returns the current state
func (b *Breaker) State() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen returns true if the breaker is open
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Stats holds circuit breaker statistics
type Stats struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	TotalRequests  int64  `json:"total_requests"`
	TotalFailures  int64  `json:"total_failures"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalRejected  int64  `json:"total_rejected"`
	Failures       int    `json:"current_failures"`
	Concurrent     int    `json:"concurrent"`
}

// Stats returns a snapshot of the breaker's counters
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Name:           b.name,
		State:          b.state,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		TotalRejected:  b.totalRejected,
		Failures:       b.failures,
		Concurrent:     b.concurrent,
	}
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// ForceOpen opens the breaker
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateOpen)
	b.lastFailureTime = time.Now()
}

// Close waits for pending state change callbacks
func (b *Breaker) Close() {
	b.callbackWg.Wait()
}

// Group lazily creates one breaker per network sharing a config
type Group struct {
	config *Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates a breaker group
func NewGroup(config *Config) *Group {
	if config == nil {
		config = DefaultConfig()
	}
	return &Group{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for network, creating it on first use
func (g *Group) Get(network string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[network]
	if !ok {
		b = New(network, g.config)
		g.breakers[network] = b
	}
	return b
}

// Stats returns stats for every breaker, sorted by name
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Close waits for callbacks on every breaker
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.Close()
	}
}
