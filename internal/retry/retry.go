package retry

import (
	"iter"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default values used when a Config field is left at its zero value.
const (
	DefaultRetries               = 2
	DefaultBaseDelay             = 50 * time.Millisecond
	DefaultDelayFactor           = 2.0
	DefaultBaseResponseTimeout   = 300 * time.Millisecond
	DefaultResponseTimeoutFactor = 1.5

	// DefaultResponseTimeout is the timeout of the first, non-generated attempt.
	DefaultResponseTimeout = 3 * time.Second
)

// jitterFraction bounds the random delay perturbation: delay + [0, delay*jitterFraction].
const jitterFraction = 0.25

// Attempt is one retry entry: how long to wait before sending, and how long
// to wait for the response once sent.
type Attempt struct {
	Delay           time.Duration
	ResponseTimeout time.Duration
}

// Config describes a retry strategy.
type Config struct {
	Retries               int           // Retries after the initial attempt; 0 means DefaultRetries, NoRetries disables
	BaseDelay             time.Duration // Delay before the first retry
	DelayFactor           float64       // Growth factor applied to the delay per retry
	BaseResponseTimeout   time.Duration // Response timeout of the first retry
	ResponseTimeoutFactor float64       // Growth factor applied to the timeout per retry
}

// NoRetries as Config.Retries sends the initial attempt only. A zero
// Retries selects DefaultRetries.
const NoRetries = -1

// DefaultConfig returns the default strategy: 2 retries after the initial attempt.
func DefaultConfig() Config {
	return Config{
		Retries:               DefaultRetries,
		BaseDelay:             DefaultBaseDelay,
		DelayFactor:           DefaultDelayFactor,
		BaseResponseTimeout:   DefaultBaseResponseTimeout,
		ResponseTimeoutFactor: DefaultResponseTimeoutFactor,
	}
}

// withDefaults fills zero fields. A negative Retries disables retrying.
func (c Config) withDefaults() Config {
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.DelayFactor == 0 {
		c.DelayFactor = DefaultDelayFactor
	}
	if c.BaseResponseTimeout == 0 {
		c.BaseResponseTimeout = DefaultBaseResponseTimeout
	}
	if c.ResponseTimeoutFactor == 0 {
		c.ResponseTimeoutFactor = DefaultResponseTimeoutFactor
	}
	return c
}

// Source is the random source used for jitter. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Attempts lazily yields cfg.Retries entries. Entry k waits
// BaseDelay*DelayFactor^k plus up to 25% jitter and allows
// BaseResponseTimeout*ResponseTimeoutFactor^k for the response.
// A nil src uses the package-level math/rand/v2 source.
func Attempts(cfg Config, src Source) iter.Seq[Attempt] {
	cfg = cfg.withDefaults()
	if src == nil {
		src = globalSource{}
	}

	return func(yield func(Attempt) bool) {
		for k := 0; k < cfg.Retries; k++ {
			delay := scale(cfg.BaseDelay, cfg.DelayFactor, k)
			jitter := time.Duration(src.Float64() * float64(delay) * jitterFraction)

			a := Attempt{
				Delay:           delay + jitter,
				ResponseTimeout: scale(cfg.BaseResponseTimeout, cfg.ResponseTimeoutFactor, k),
			}
			if !yield(a) {
				return
			}
		}
	}
}

// Generate collects Attempts into a slice.
func Generate(cfg Config, src Source) []Attempt {
	out := make([]Attempt, 0, max(cfg.withDefaults().Retries, 0))
	for a := range Attempts(cfg, src) {
		out = append(out, a)
	}
	return out
}

func scale(base time.Duration, factor float64, k int) time.Duration {
	return time.Duration(float64(base) * math.Pow(factor, float64(k)))
}

// Plan is the full attempt schedule of one operation: the initial attempt
// (zero delay) followed by the generated retries. It is immutable once built.
type Plan struct {
	attempts []Attempt
}

// NewPlan prepends the initial attempt to retries.
func NewPlan(initialTimeout time.Duration, retries []Attempt) *Plan {
	if initialTimeout <= 0 {
		initialTimeout = DefaultResponseTimeout
	}
	attempts := make([]Attempt, 0, len(retries)+1)
	attempts = append(attempts, Attempt{ResponseTimeout: initialTimeout})
	attempts = append(attempts, retries...)
	return &Plan{attempts: attempts}
}

// Len returns the total number of attempts, initial one included.
func (p *Plan) Len() int { return len(p.attempts) }

// At returns attempt i (0 is the initial attempt).
func (p *Plan) At(i int) Attempt { return p.attempts[i] }

// Budget returns the worst-case wall time of the whole plan.
func (p *Plan) Budget() time.Duration {
	var total time.Duration
	for _, a := range p.attempts {
		total += a.Delay + a.ResponseTimeout
	}
	return total
}

// BackOff returns a backoff.BackOff that yields the delay of each retry in
// order and then backoff.Stop.
func (p *Plan) BackOff() backoff.BackOff {
	return &planBackOff{plan: p}
}

type planBackOff struct {
	plan *Plan
	next int
}

var _ backoff.BackOff = (*planBackOff)(nil)

func (b *planBackOff) NextBackOff() time.Duration {
	b.next++
	if b.next >= len(b.plan.attempts) {
		return backoff.Stop
	}
	return b.plan.attempts[b.next].Delay
}

func (b *planBackOff) Reset() { b.next = 0 }
