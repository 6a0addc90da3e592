package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var errStreamClosed = errors.New("stream closed")

// RestartPolicy controls what happens after an adapter terminates.
type RestartPolicy struct {
	Enabled bool
	Delay   time.Duration
}

// Bridge connects adapters to the bus: one ingest loop publishing what the
// adapter reads, one egress loop sending everything else back out.
type Bridge struct {
	bus     *Bus
	logger  *slog.Logger
	metrics *relayMetrics
}

func NewBridge(bus *Bus, logger *slog.Logger, metrics *relayMetrics) *Bridge {
	b := &Bridge{bus: bus, logger: logger, metrics: metrics}
	bus.OnLag = func(sub *Subscription, skipped uint64) {
		metrics.skipped.Add(context.Background(), int64(skipped),
			metric.WithAttributes(attribute.String("adapter", sub.Name())))
		logger.Warn("subscriber fell behind, events skipped", "adapter", sub.Name(), "skipped", skipped)
	}
	return b
}

// Run opens the adapter and relays until either loop stops. A closed stream
// or failed write is returned as an error; cancellation of ctx returns nil.
func (b *Bridge) Run(ctx context.Context, a Adapter) error {
	logger := b.logger.With("adapter", a.Name())

	if err := a.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "open %s", a.Name())
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WarnContext(ctx, "close adapter", "error", err)
		}
	}()

	sub := b.bus.Subscribe(a.Name())
	defer sub.Close()
	logger.InfoContext(ctx, "adapter started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.ingest(gctx, a, logger) })
	g.Go(func() error { return b.egress(gctx, a, sub, logger) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Supervise runs the adapter until ctx is done, restarting it after a
// failure when the policy allows. Failures never propagate to other adapters.
func (b *Bridge) Supervise(ctx context.Context, a Adapter, policy RestartPolicy) {
	logger := b.logger.With("adapter", a.Name())
	for {
		err := b.Run(ctx, a)
		if ctx.Err() != nil {
			return
		}
		b.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", a.Name())))
		logger.ErrorContext(ctx, "adapter terminated", "error", err)
		if !policy.Enabled {
			return
		}

		logger.InfoContext(ctx, "restarting adapter", "delay", policy.Delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.Delay):
		}
	}
}

func (b *Bridge) ingest(ctx context.Context, a Adapter, logger *slog.Logger) error {
	err := a.Listen(ctx, func(event Event) {
		if event.Source == "" {
			logger.WarnContext(ctx, "dropping event without source", "kind", event.Kind, "actor", event.Actor)
			return
		}
		logger.DebugContext(ctx, "publish", "source", event.Source, "kind", event.Kind, "actor", event.Actor)
		b.metrics.published.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", event.Source),
			attribute.String("kind", event.Kind.String()),
		))
		b.bus.Publish(event)
	})
	if ctx.Err() != nil {
		return errors.WithStack(ctx.Err())
	}
	if err == nil {
		err = errStreamClosed
	}
	return errors.Wrap(err, "ingest")
}

func (b *Bridge) egress(ctx context.Context, a Adapter, sub *Subscription, logger *slog.Logger) error {
	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			return errors.Wrap(err, "egress")
		}
		if event.Source == a.Name() {
			continue
		}
		if err := a.Send(ctx, event); err != nil {
			return errors.Wrapf(err, "egress: send %s from %s", event.Kind, event.Source)
		}
		logger.DebugContext(ctx, "delivered", "source", event.Source, "kind", event.Kind)
		b.metrics.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", a.Name())))
	}
}
