package common

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Circuit breaker errors
var (
	ErrTooManyRequests    = errors.New("too many requests")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown state: %d", s)
	}
}

// Settings holds the settings for the circuit breaker
type Settings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful decides whether an error counts against the breaker.
	// Nil treats every non-nil error as a failure.
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from State, to State)
}

// Counts holds the counts of requests and their results
type Counts struct {
	Requests      uint32
	TotalFailures uint32
	Failures      uint32
	Successes     uint32
}

// CircuitBreaker stops calling a failing dependency for Timeout once
// ReadyToTrip says so, then lets MaxRequests probes through half-open.
type CircuitBreaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	readyToTrip   func(counts Counts) bool
	isSuccessful  func(err error) bool
	onStateChange func(name string, from State, to State)

	mutex      sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	now        func() time.Time
}

// DefaultSettings returns the default settings for a circuit breaker
func DefaultSettings(name string) *Settings {
	return &Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			failureRatio := float64(counts.Failures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given settings
func NewCircuitBreaker(settings *Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          settings.Name,
		maxRequests:   settings.MaxRequests,
		interval:      settings.Interval,
		timeout:       settings.Timeout,
		readyToTrip:   settings.ReadyToTrip,
		isSuccessful:  settings.IsSuccessful,
		onStateChange: settings.OnStateChange,
		state:         StateClosed,
		now:           time.Now,
	}

	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.interval == 0 {
		cb.interval = 60 * time.Second
	}
	if cb.timeout == 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.readyToTrip == nil {
		cb.readyToTrip = DefaultSettings(settings.Name).ReadyToTrip
	}
	if cb.isSuccessful == nil {
		cb.isSuccessful = func(err error) bool { return err == nil }
	}
	cb.expiry = cb.now().Add(cb.interval)

	return cb
}

// State returns the breaker state, advancing an expired open state.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.refresh(cb.now())
	return cb.state
}

// Execute runs fn unless the breaker is open. The error from fn is
// returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.afterRequest(generation, false)
			panic(e)
		}
	}()

	err = fn()
	cb.afterRequest(generation, cb.isSuccessful(err))
	return err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.refresh(cb.now())

	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.maxRequests {
			return 0, ErrTooManyRequests
		}
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	cb.refresh(now)
	if cb.generation != generation {
		return
	}

	if success {
		cb.onSuccess(now)
	} else {
		cb.onFailure(now)
	}
}

// refresh rolls the closed-state counting window and moves an expired open
// breaker to half-open.
func (cb *CircuitBreaker) refresh(now time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
}

func (cb *CircuitBreaker) onSuccess(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.counts.Successes++
		if cb.counts.Failures > 0 {
			cb.counts.Failures--
		}

	case StateHalfOpen:
		cb.counts.Successes++
		if cb.counts.Successes >= cb.maxRequests {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) onFailure(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.counts.Failures++
		cb.counts.TotalFailures++
		if cb.readyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}

	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.newGeneration(now)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}
}

func (cb *CircuitBreaker) newGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.expiry = now.Add(cb.interval)
	case StateOpen:
		cb.expiry = now.Add(cb.timeout)
	default:
		cb.expiry = time.Time{}
	}
}

// IsCircuitBreakerError checks if the error is from the circuit breaker
func IsCircuitBreakerError(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests)
}

// HandleCircuitBreakerError returns appropriate HTTP status code for circuit breaker errors
func HandleCircuitBreakerError(err error) (int, string) {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return http.StatusServiceUnavailable, "Service is temporarily unavailable"
	}
	if errors.Is(err, ErrTooManyRequests) {
		return http.StatusTooManyRequests, "Too many requests"
	}
	return http.StatusInternalServerError, "Internal server error"
}
