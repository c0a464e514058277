// Package input turns periodic hardware samples into button and encoder events.
package input

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"spotiknob/internal/core"
)

// Snapshot is the raw hardware state at one sampling instant.
type Snapshot struct {
	Position int
	Pressed  [core.NumButtons]bool
}

type Sampler interface {
	Sample() (Snapshot, error)
}

// Handler receives input events, e.g. control.Actions.
type Handler interface {
	Handle(ctx context.Context, event core.InputEvent) error
}

type Observer interface {
	ObserveInput(action string)
}

type nopObserver struct{}

func (nopObserver) ObserveInput(string) {}

// Diff returns the events between two consecutive snapshots: an encoder
// delta when the position moved, and at most one button press, the
// first in priority order that went from released to pressed.
func Diff(prev, cur Snapshot) []core.InputEvent {
	var events []core.InputEvent
	if delta := cur.Position - prev.Position; delta != 0 {
		events = append(events, core.EncoderDelta(clampDelta(int64(delta))))
	}
	for i := range cur.Pressed {
		if cur.Pressed[i] && !prev.Pressed[i] {
			events = append(events, core.ButtonPressed(core.ButtonID(i)))
			break
		}
	}
	return events
}

// clampDelta saturates at the int32 range so a corrupt or reset position
// never wraps into a move in the opposite direction.
func clampDelta(delta int64) int32 {
	return int32(max(math.MinInt32, min(math.MaxInt32, delta)))
}

// Poller samples on a fixed interval and forwards edges to a Handler.
// Encoder deltas are summed and forwarded no faster than the limiter allows.
type Poller struct {
	sampler  Sampler
	handler  Handler
	logger   *zap.Logger
	observer Observer
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time

	prev    Snapshot
	primed  bool
	pending int32
}

type Option func(*Poller)

func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithVolumeRate limits forwarded encoder updates per second.
func WithVolumeRate(perSecond float64) Option {
	return func(p *Poller) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(p *Poller) {
		p.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

func NewPoller(sampler Sampler, handler Handler, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		sampler:  sampler,
		handler:  handler,
		logger:   logger,
		observer: nopObserver{},
		interval: core.DefaultPollInterval,
		limiter:  rate.NewLimiter(rate.Limit(core.DefaultVolumeUpdatesPerSecond), 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start polls until ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting input polling", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Input polling stopped")
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick takes one sample and dispatches the resulting events. The first
// successful sample only establishes the baseline.
func (p *Poller) Tick(ctx context.Context) {
	cur, err := p.sampler.Sample()
	if err != nil {
		p.logger.Warn("Input sample failed", zap.Error(err))
		return
	}
	if !p.primed {
		p.prev = cur
		p.primed = true
		return
	}

	events := Diff(p.prev, cur)
	p.prev = cur

	for _, event := range events {
		if event.Kind == core.EventEncoderDelta {
			p.pending = clampDelta(int64(p.pending) + int64(event.Delta))
			continue
		}
		p.dispatch(ctx, event)
	}

	if p.pending != 0 && p.limiter.AllowN(p.now(), 1) {
		delta := p.pending
		p.pending = 0
		p.dispatch(ctx, core.EncoderDelta(delta))
	}
}

func (p *Poller) dispatch(ctx context.Context, event core.InputEvent) {
	action := core.ActionVolume
	if event.Kind == core.EventButtonPressed {
		action = event.Button.Action()
	}
	p.observer.ObserveInput(action)

	p.logger.Debug("Input event", zap.Stringer("event", event))
	if err := p.handler.Handle(ctx, event); err != nil {
		p.logger.Warn("Input action failed",
			zap.Stringer("event", event),
			zap.Error(err))
	}
}
