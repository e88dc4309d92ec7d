package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/manifest"
)

// AppInfo is the application metadata every tier can see.
type AppInfo struct {
	Name       string
	Version    string
	Identifier string

	// Dir is the directory the manifest was loaded from.
	Dir string
}

// ProcessInfo describes the host process.
type ProcessInfo struct {
	PID        int
	Executable string
	Hostname   string
	OS         string
	Platform   string
	StartedAt  time.Time
}

// Keepalive counts holders that keep the run-loop alive even when no script
// task is runnable, such as file watches and listeners.
type Keepalive struct {
	n atomic.Int64
}

// Acquire registers a holder. The returned release function is idempotent.
func (k *Keepalive) Acquire() (release func()) {
	k.n.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			k.n.Add(-1)
		}
	}
}

// Count returns the number of live holders.
func (k *Keepalive) Count() int64 {
	return k.n.Load()
}

// InitContext is assembled tier by tier. Accessors fail with
// ErrTierViolation when called before their tier.
type InitContext struct {
	logger *slog.Logger
	app    AppInfo
	limits manifest.Limits

	tier Tier

	caps      *capability.Set
	keepalive *Keepalive
	bridge    *bridge.Bridge
	process   ProcessInfo
}

// NewInitContext creates a context holding only tier-0 resources.
func NewInitContext(logger *slog.Logger, app AppInfo, limits manifest.Limits) *InitContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &InitContext{logger: logger, app: app, limits: limits, tier: ExtensionOnly}
}

// Logger returns the base logger.
func (c *InitContext) Logger() *slog.Logger {
	return c.logger
}

// App returns application metadata.
func (c *InitContext) App() AppInfo {
	return c.app
}

// Limits returns the manifest limits.
func (c *InitContext) Limits() manifest.Limits {
	return c.limits
}

// Tier returns the tier currently being initialized.
func (c *InitContext) Tier() Tier {
	return c.tier
}

func (c *InitContext) require(t Tier, what string) error {
	if c.tier < t {
		return fmt.Errorf("%s requires tier %s, initializing %s: %w", what, t, c.tier, ErrTierViolation)
	}
	return nil
}

// Capabilities returns the compiled capability set.
func (c *InitContext) Capabilities() (*capability.Set, error) {
	if err := c.require(CapabilityBased, "capabilities"); err != nil {
		return nil, err
	}
	return c.caps, nil
}

// Keepalive returns the run-loop keepalive counter.
func (c *InitContext) Keepalive() (*Keepalive, error) {
	if err := c.require(CapabilityBased, "keepalive"); err != nil {
		return nil, err
	}
	return c.keepalive, nil
}

// Bridge returns the command/event bridge.
func (c *InitContext) Bridge() (*bridge.Bridge, error) {
	if err := c.require(ComplexContext, "bridge"); err != nil {
		return nil, err
	}
	return c.bridge, nil
}

// Process returns host process metadata.
func (c *InitContext) Process() (ProcessInfo, error) {
	if err := c.require(ComplexContext, "process info"); err != nil {
		return ProcessInfo{}, err
	}
	return c.process, nil
}

// ProvideCapabilities installs tier-2 resources. Builders call it from
// Prepare.
func (c *InitContext) ProvideCapabilities(caps *capability.Set, keepalive *Keepalive) {
	c.caps = caps
	c.keepalive = keepalive
}

// ProvideBridge installs tier-3 resources. Builders call it from Prepare.
func (c *InitContext) ProvideBridge(b *bridge.Bridge, proc ProcessInfo) {
	c.bridge = b
	c.process = proc
}

// ContextBuilder makes the resources of a tier available. Prepare runs once
// per tier, after every extension of lower tiers initialized successfully.
type ContextBuilder interface {
	Prepare(ctx context.Context, ic *InitContext, tier Tier) error
}

// BuilderFunc adapts a function to ContextBuilder.
type BuilderFunc func(ctx context.Context, ic *InitContext, tier Tier) error

// Prepare calls f.
func (f BuilderFunc) Prepare(ctx context.Context, ic *InitContext, tier Tier) error {
	return f(ctx, ic, tier)
}
