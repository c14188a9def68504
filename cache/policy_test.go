package cache

import (
	"testing"
	"time"
)

func TestPolicy_EffectiveTTL(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		override time.Duration
		want     time.Duration
	}{
		{"default applies without override", DefaultPolicy(), 0, 5 * time.Minute},
		{"override under max", DefaultPolicy(), 15 * time.Minute, 15 * time.Minute},
		{"override clamped to max", DefaultPolicy(), 48 * time.Hour, 24 * time.Hour},
		{"default clamped to max", Policy{DefaultTTL: time.Hour, MaxTTL: time.Minute}, 0, time.Minute},
		{"no max", Policy{DefaultTTL: time.Minute}, 48 * time.Hour, 48 * time.Hour},
		{"no default", Policy{MaxTTL: time.Hour}, 0, 0},
		{"negative override uses default", DefaultPolicy(), -time.Second, 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.EffectiveTTL(tt.override); got != tt.want {
				t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
			}
		})
	}
}
