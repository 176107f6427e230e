package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
)

func TestFixedRetry(t *testing.T) {
	p := FixedRetry{Attempts: 3, Delay: 3 * time.Second}

	for failures := 1; failures <= 2; failures++ {
		d, ok := p.NextDelay(failures)
		if !ok || d != 3*time.Second {
			t.Errorf("NextDelay(%d) = %v, %v; want 3s, true", failures, d, ok)
		}
	}
	if _, ok := p.NextDelay(3); ok {
		t.Error("NextDelay(3) allowed a fourth attempt")
	}
}

func TestExponentialRetry_Sequence(t *testing.T) {
	p := ExponentialRetry{Base: time.Second, Max: 30 * time.Second}

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		d, ok := p.NextDelay(i + 1)
		if !ok {
			t.Fatalf("NextDelay(%d) gave up on an unbounded policy", i+1)
		}
		if d != w*time.Second {
			t.Errorf("NextDelay(%d) = %v, want %v", i+1, d, w*time.Second)
		}
	}

	if d, ok := p.NextDelay(100000); !ok || d != 30*time.Second {
		t.Errorf("NextDelay(100000) = %v, %v; want 30s, true", d, ok)
	}
}

func TestExponentialRetry_Bounded(t *testing.T) {
	p := ExponentialRetry{Base: time.Second, Max: 30 * time.Second, Attempts: 2}
	if _, ok := p.NextDelay(1); !ok {
		t.Error("NextDelay(1) should allow a second attempt")
	}
	if _, ok := p.NextDelay(2); ok {
		t.Error("NextDelay(2) should stop after two attempts")
	}
}

func TestExponentialRetry_ZeroBase(t *testing.T) {
	p := PolicyFromConfig(config.ConnectPolicyConfig{
		Backoff: config.BackoffExponential, InitialDelay: 0, MaxDelay: 30,
	})

	want := []time.Duration{1, 2, 4, 8, 16, 30}
	for i, w := range want {
		d, ok := p.NextDelay(i + 1)
		if !ok || d != w*time.Second {
			t.Errorf("NextDelay(%d) = %v, %v; want %v, true", i+1, d, ok, w*time.Second)
		}
	}
}

func TestExponentialRetry_MaxBelowBase(t *testing.T) {
	p := ExponentialRetry{Base: 2 * time.Second}
	for failures := 1; failures <= 3; failures++ {
		if d, _ := p.NextDelay(failures); d != 2*time.Second {
			t.Errorf("NextDelay(%d) = %v, want 2s", failures, d)
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	fixed := PolicyFromConfig(config.ConnectPolicyConfig{
		Backoff: config.BackoffFixed, InitialDelay: 3, MaxAttempts: 3,
	})
	if got, want := fixed, (FixedRetry{Attempts: 3, Delay: 3 * time.Second}); got != want {
		t.Errorf("fixed policy = %#v, want %#v", got, want)
	}

	exp := PolicyFromConfig(config.ConnectPolicyConfig{
		Backoff: config.BackoffExponential, InitialDelay: 1, MaxDelay: 30,
	})
	if got, want := exp, (ExponentialRetry{Base: time.Second, Max: 30 * time.Second}); got != want {
		t.Errorf("exponential policy = %#v, want %#v", got, want)
	}
}
