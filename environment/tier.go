package environment

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Tier is the deployment tier the application behaves as
type Tier string

const (
	TierDev  Tier = "dev"
	TierTest Tier = "test"
	TierLive Tier = "live"
)

// DefaultTier applies when the platform does not name one
const DefaultTier = TierLive

// ParseTier accepts dev, test or live in any case
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierDev:
		return TierDev, nil
	case TierTest:
		return TierTest, nil
	case TierLive:
		return TierLive, nil
	}
	return "", fmt.Errorf("unknown environment tier %q", raw)
}

// Kernel records the active tier so the rest of the process can read it
type Kernel struct {
	tier atomic.Value // holds Tier
}

// NewKernel starts at the given tier
func NewKernel(initial Tier) *Kernel {
	k := &Kernel{}
	k.tier.Store(initial)
	return k
}

// SetTier switches the active tier
func (k *Kernel) SetTier(t Tier) {
	k.tier.Store(t)
}

// Tier returns the active tier, DefaultTier if none was set
func (k *Kernel) Tier() Tier {
	if t, ok := k.tier.Load().(Tier); ok && t != "" {
		return t
	}
	return DefaultTier
}

// IsLive reports whether the active tier is the production one
func (k *Kernel) IsLive() bool {
	return k.Tier() == TierLive
}
