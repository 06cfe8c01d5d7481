// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/absmach/fanout/filter"
	"github.com/absmach/fanout/queue/types"
	"github.com/absmach/fanout/server/otel"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Admission outcomes beyond types.Admission, used in logs and metrics.
const (
	outcomeFiltered = "filtered"
	outcomeError    = "error"
)

// target is a subscribed queue with its compiled filter. err is set when
// the stored filter could not be rebuilt.
type target[V any] struct {
	queue  string
	filter filter.Filter[V]
	err    error
}

// delivery is the outcome of offering one message to one queue.
type delivery struct {
	queue     string
	filtered  bool
	admission types.Admission
	err       error
}

func (d delivery) accepted() bool {
	return d.err == nil && !d.filtered && d.admission == types.Accepted
}

// failed reports whether the queue should have received the message but
// did not. A filtered-out queue is not a failure.
func (d delivery) failed() bool {
	return d.err != nil || (!d.filtered && d.admission != types.Accepted)
}

func (d delivery) outcome() string {
	switch {
	case d.err != nil:
		return outcomeError
	case d.filtered:
		return outcomeFiltered
	default:
		return d.admission.String()
	}
}

// prepared is a message ready for dispatch.
type prepared[V any] struct {
	msg      *Message[V]
	queued   *types.Message
	interval time.Duration
}

// Publish publishes exactly one message. It returns the message when every
// subscribed queue either accepted it or was filtered out, and nil when the
// message was a duplicate or at least one queue did not accept it. Queues
// that accepted the message keep it in either case.
func (f *Fanout[V]) Publish(ctx context.Context, args PublishArgs[V]) (*Message[V], error) {
	if len(args.Messages) != 1 {
		return nil, fmt.Errorf("%w: publish takes exactly one message, got %d", ErrInvalidArgs, len(args.Messages))
	}

	ctx, span := f.tracer.Start(ctx, "fanout.publish", trace.WithAttributes(
		attribute.String("fanout", f.name),
	))
	defer span.End()

	start := time.Now()
	defer f.recordDuration(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := f.prepare(args.Messages[0])
	if err != nil {
		f.recordError(span, "encode", err)
		return nil, err
	}

	// The dedup key is recorded only after every read has succeeded.
	st, err := f.registry.snapshot(ctx)
	if err != nil {
		f.recordError(span, "registry", err)
		return nil, err
	}

	fresh, err := f.dedup.checkAndRecord(ctx, p.msg.DedupKey, p.interval)
	if err != nil {
		f.recordError(span, "dedup", err)
		return nil, err
	}
	if !fresh {
		f.duplicate(p)
		return nil, nil
	}

	deliveries := f.dispatch(ctx, f.targets(st), p, f.timeout(args))
	accepted, failed := f.aggregate(p, deliveries)
	span.SetAttributes(
		attribute.String("message_id", p.msg.ID),
		attribute.Int("queues", len(deliveries)),
		attribute.Int("accepted", accepted),
		attribute.Int("failed", failed),
	)

	if failed > 0 {
		return nil, nil
	}
	return p.msg, nil
}

// PublishMany publishes the messages in order against one subscription
// snapshot and returns those accepted by at least one queue. Messages that
// were duplicates, filtered out everywhere or rejected by every queue are
// omitted. If ctx is cancelled between messages, the remaining messages are
// not published and the messages published so far are returned with the
// context error.
func (f *Fanout[V]) PublishMany(ctx context.Context, args PublishArgs[V]) ([]*Message[V], error) {
	ctx, span := f.tracer.Start(ctx, "fanout.publish_many", trace.WithAttributes(
		attribute.String("fanout", f.name),
		attribute.Int("messages", len(args.Messages)),
	))
	defer span.End()

	start := time.Now()
	defer f.recordDuration(start)

	out := make([]*Message[V], 0, len(args.Messages))
	if len(args.Messages) == 0 {
		return out, nil
	}

	batch := make([]prepared[V], len(args.Messages))
	for i, ma := range args.Messages {
		p, err := f.prepare(ma)
		if err != nil {
			f.recordError(span, "encode", err)
			return nil, err
		}
		batch[i] = p
	}

	st, err := f.registry.snapshot(ctx)
	if err != nil {
		f.recordError(span, "registry", err)
		return nil, err
	}
	targets := f.targets(st)
	timeout := f.timeout(args)

	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		fresh, err := f.dedup.checkAndRecord(ctx, p.msg.DedupKey, p.interval)
		if err != nil {
			f.recordError(span, "dedup", err)
			return out, err
		}
		if !fresh {
			f.duplicate(p)
			continue
		}

		accepted, _ := f.aggregate(p, f.dispatch(ctx, targets, p, timeout))
		if accepted > 0 {
			out = append(out, p.msg)
		}
	}

	span.SetAttributes(attribute.Int("published", len(out)))
	return out, nil
}

// prepare builds the message, its dedup key and its queued encoding.
func (f *Fanout[V]) prepare(args MessageArgs[V]) (prepared[V], error) {
	now := time.Now().UTC()

	msg := &Message[V]{
		ID:        newMessageID(),
		Payload:   args.Payload,
		Headers:   maps.Clone(args.Headers),
		CreatedAt: now,
		DedupKey:  args.DedupID,
	}
	if args.TTL > 0 {
		msg.ExpiresAt = now.Add(args.TTL)
	}

	if msg.DedupKey == "" && args.DedupByHash {
		payload, err := f.codec.Marshal(args.Payload)
		if err != nil {
			return prepared[V]{}, fmt.Errorf("failed to encode payload: %w", err)
		}
		msg.DedupKey = hashKey(payload)
	}

	data, err := f.codec.Marshal(msg)
	if err != nil {
		return prepared[V]{}, fmt.Errorf("failed to encode message: %w", err)
	}

	interval := args.DedupInterval
	if interval <= 0 {
		interval = f.dedupInterval
	}

	return prepared[V]{
		msg: msg,
		queued: &types.Message{
			ID:        msg.ID,
			Data:      data,
			Headers:   msg.Headers,
			CreatedAt: msg.CreatedAt,
			ExpiresAt: msg.ExpiresAt,
		},
		interval: interval,
	}, nil
}

// targets compiles the filters of every subscribed queue.
func (f *Fanout[V]) targets(st *state) []target[V] {
	subs := st.subscriptions()
	targets := make([]target[V], len(subs))
	for i, sub := range subs {
		flt, err := compileFilter(f.filters, sub.Filter)
		targets[i] = target[V]{queue: sub.Queue, filter: flt, err: err}
	}
	return targets
}

// dispatch offers the message to every target concurrently and waits for
// all outcomes. Attempts run on a context detached from the caller's
// cancellation and bounded by timeout.
func (f *Fanout[V]) dispatch(ctx context.Context, targets []target[V], p prepared[V], timeout time.Duration) []delivery {
	if len(targets) == 0 {
		return nil
	}

	attemptCtx := context.WithoutCancel(ctx)

	workers := pool.NewWithResults[delivery]()
	if f.maxConcurrency > 0 {
		workers = workers.WithMaxGoroutines(f.maxConcurrency)
	}
	for _, t := range targets {
		workers.Go(func() delivery {
			return f.deliver(attemptCtx, t, p, timeout)
		})
	}

	return workers.Wait()
}

type enqueueResult struct {
	admission types.Admission
	err       error
}

func (f *Fanout[V]) deliver(ctx context.Context, t target[V], p prepared[V], timeout time.Duration) delivery {
	d := delivery{queue: t.queue}

	if t.err != nil {
		d.err = t.err
		f.filterFailed(t.queue, p, t.err)
		return d
	}

	ok, err := applyFilter(t.filter, p.msg)
	if err != nil {
		d.err = err
		f.filterFailed(t.queue, p, err)
		return d
	}
	if !ok {
		d.filtered = true
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A client that ignores ctx must not hold up the publish past timeout.
	done := make(chan enqueueResult, 1)
	go func() {
		adm, err := f.queues.TryEnqueue(ctx, t.queue, p.queued)
		done <- enqueueResult{admission: adm, err: err}
	}()

	select {
	case res := <-done:
		d.admission, d.err = res.admission, res.err
	case <-ctx.Done():
		d.err = ctx.Err()
	}

	if d.err != nil {
		d.err = fmt.Errorf("queue %q: %w", t.queue, d.err)
		f.logger.Warn("fanout_enqueue_failed",
			slog.String("queue", t.queue),
			slog.String("message_id", p.msg.ID),
			slog.String("error", d.err.Error()))
	}

	return d
}

// aggregate records the deliveries of one message and returns how many
// queues accepted it and how many failed to.
func (f *Fanout[V]) aggregate(p prepared[V], deliveries []delivery) (accepted, failed int) {
	for _, d := range deliveries {
		if d.accepted() {
			accepted++
		}
		if d.failed() {
			failed++
		}
		if f.metrics != nil {
			f.metrics.RecordAdmission(f.name, d.outcome())
		}
	}

	result := otel.ResultDelivered
	switch {
	case failed > 0 && accepted > 0:
		result = otel.ResultPartial
	case failed > 0:
		result = otel.ResultFailed
	}

	if failed > 0 {
		rejected := make([]string, 0, failed)
		for _, d := range deliveries {
			if d.failed() {
				rejected = append(rejected, d.queue+"="+d.outcome())
			}
		}
		f.logger.Debug("fanout_publish_partial",
			slog.String("message_id", p.msg.ID),
			slog.Int("accepted", accepted),
			slog.Any("rejected", rejected))
	}

	if f.metrics != nil {
		f.metrics.RecordPublish(f.name, result, int64(len(p.queued.Data)))
	}

	return accepted, failed
}

func (f *Fanout[V]) duplicate(p prepared[V]) {
	f.logger.Debug("fanout_duplicate_dropped", slog.String("dedup_key", p.msg.DedupKey))
	if f.metrics != nil {
		f.metrics.RecordPublish(f.name, otel.ResultDuplicate, 0)
	}
}

func (f *Fanout[V]) filterFailed(queueName string, p prepared[V], err error) {
	f.logger.Warn("fanout_filter_failed",
		slog.String("queue", queueName),
		slog.String("message_id", p.msg.ID),
		slog.String("error", err.Error()))
	if f.metrics != nil {
		f.metrics.RecordFilterFailure(f.name, queueName)
	}
}

func (f *Fanout[V]) recordError(span trace.Span, errorType string, err error) {
	span.SetStatus(codes.Error, err.Error())
	if f.metrics != nil {
		f.metrics.RecordError(errorType)
	}
}

func (f *Fanout[V]) timeout(args PublishArgs[V]) time.Duration {
	if args.Timeout > 0 {
		return args.Timeout
	}
	return f.admissionTimeout
}

func (f *Fanout[V]) recordDuration(start time.Time) {
	if f.metrics != nil {
		f.metrics.RecordPublishDuration(float64(time.Since(start).Microseconds()) / 1000)
	}
}
