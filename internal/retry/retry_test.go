package retry

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestGenerate_Bounds(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"defaults", Config{}},
		{"one retry", Config{Retries: 1, BaseDelay: 10 * time.Millisecond, DelayFactor: 3, BaseResponseTimeout: time.Second, ResponseTimeoutFactor: 2}},
		{"many retries", Config{Retries: 8, BaseDelay: 5 * time.Millisecond, DelayFactor: 1.5, BaseResponseTimeout: 100 * time.Millisecond, ResponseTimeoutFactor: 1.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg.withDefaults()
			src := rand.New(rand.NewPCG(1, 2))

			for run := 0; run < 50; run++ {
				attempts := Generate(tt.cfg, src)
				require.Len(t, attempts, cfg.Retries)

				for k, a := range attempts {
					wantTimeout := time.Duration(float64(cfg.BaseResponseTimeout) * math.Pow(cfg.ResponseTimeoutFactor, float64(k)))
					assert.Equal(t, wantTimeout, a.ResponseTimeout, "attempt %d timeout", k)

					base := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.DelayFactor, float64(k)))
					assert.GreaterOrEqual(t, a.Delay, base, "attempt %d delay below base", k)
					assert.LessOrEqual(t, a.Delay, base+base/4, "attempt %d delay above jitter bound", k)
				}
			}
		})
	}
}

func TestGenerate_DefaultSchedule(t *testing.T) {
	attempts := Generate(DefaultConfig(), fixedSource(0))
	require.Len(t, attempts, 2)

	assert.Equal(t, Attempt{Delay: 50 * time.Millisecond, ResponseTimeout: 300 * time.Millisecond}, attempts[0])
	assert.Equal(t, Attempt{Delay: 100 * time.Millisecond, ResponseTimeout: 450 * time.Millisecond}, attempts[1])
}

func TestGenerate_MaxJitter(t *testing.T) {
	attempts := Generate(Config{Retries: 1, BaseDelay: 100 * time.Millisecond}, fixedSource(1))
	require.Len(t, attempts, 1)
	assert.Equal(t, 125*time.Millisecond, attempts[0].Delay)
}

func TestGenerate_NegativeRetriesDisablesRetry(t *testing.T) {
	assert.Empty(t, Generate(Config{Retries: NoRetries}, nil))
	assert.Empty(t, Generate(Config{Retries: -5}, nil))
}

func TestGenerate_ZeroRetriesUsesDefault(t *testing.T) {
	assert.Len(t, Generate(Config{}, nil), DefaultRetries)
	assert.Len(t, Generate(Config{Retries: 0, BaseDelay: time.Millisecond}, nil), DefaultRetries)
}

func TestAttempts_IsLazy(t *testing.T) {
	calls := 0
	src := sourceFunc(func() float64 {
		calls++
		return 0
	})

	for range Attempts(Config{Retries: 10}, src) {
		break
	}
	assert.Equal(t, 1, calls)
}

type sourceFunc func() float64

func (f sourceFunc) Float64() float64 { return f() }

func TestPlan(t *testing.T) {
	retries := Generate(Config{Retries: 2}, fixedSource(0))
	plan := NewPlan(0, retries)

	require.Equal(t, 3, plan.Len())
	assert.Equal(t, Attempt{ResponseTimeout: DefaultResponseTimeout}, plan.At(0))
	assert.Equal(t, retries[1], plan.At(2))

	want := DefaultResponseTimeout + retries[0].Delay + retries[0].ResponseTimeout + retries[1].Delay + retries[1].ResponseTimeout
	assert.Equal(t, want, plan.Budget())
}

func TestPlan_BackOff(t *testing.T) {
	retries := []Attempt{
		{Delay: 10 * time.Millisecond, ResponseTimeout: time.Second},
		{Delay: 20 * time.Millisecond, ResponseTimeout: time.Second},
	}
	b := NewPlan(time.Second, retries).BackOff()

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
}
