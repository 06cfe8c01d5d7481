// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publish results.
const (
	ResultDelivered = "delivered"
	ResultPartial   = "partial"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// Metrics holds OpenTelemetry metric instruments for fanouts.
type Metrics struct {
	meter metric.Meter

	// Counters
	publishTotal    metric.Int64Counter
	duplicatesTotal metric.Int64Counter
	admissionsTotal metric.Int64Counter
	filterFailures  metric.Int64Counter
	errorsTotal     metric.Int64Counter

	// UpDownCounters (Gauges)
	subscriptionsActive metric.Int64UpDownCounter

	// Histograms
	messageSize     metric.Int64Histogram
	publishDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("fanout"),
	}

	var err error

	m.publishTotal, err = m.meter.Int64Counter(
		"fanout.publish.total",
		metric.WithDescription("Total published messages by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishTotal counter: %w", err)
	}

	m.duplicatesTotal, err = m.meter.Int64Counter(
		"fanout.duplicates.total",
		metric.WithDescription("Total messages dropped as duplicates"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicatesTotal counter: %w", err)
	}

	m.admissionsTotal, err = m.meter.Int64Counter(
		"fanout.admissions.total",
		metric.WithDescription("Total queue admission attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admissionsTotal counter: %w", err)
	}

	m.filterFailures, err = m.meter.Int64Counter(
		"fanout.filter.failures.total",
		metric.WithDescription("Total filter evaluations that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filterFailures counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"fanout.errors.total",
		metric.WithDescription("Total errors by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"fanout.subscriptions.active",
		metric.WithDescription("Subscriptions added minus removed by this process"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"fanout.message.size.bytes",
		metric.WithDescription("Encoded message size distribution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"fanout.publish.duration.ms",
		metric.WithDescription("Publish processing duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	return m, nil
}

// RecordPublish records the result of publishing one message.
func (m *Metrics) RecordPublish(fanout, result string, sizeBytes int64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("fanout", fanout),
		attribute.String("result", result),
	)
	m.publishTotal.Add(ctx, 1, attrs)
	if result == ResultDuplicate {
		m.duplicatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("fanout", fanout)))
		return
	}
	m.messageSize.Record(ctx, sizeBytes)
}

// RecordAdmission records the outcome of one queue admission attempt.
func (m *Metrics) RecordAdmission(fanout, outcome string) {
	m.admissionsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("fanout", fanout),
		attribute.String("outcome", outcome),
	))
}

// RecordFilterFailure records a failed filter evaluation.
func (m *Metrics) RecordFilterFailure(fanout, queue string) {
	m.filterFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("fanout", fanout),
		attribute.String("queue", queue),
	))
}

// RecordSubscriptionAdded records a new subscription.
func (m *Metrics) RecordSubscriptionAdded(fanout string) {
	m.subscriptionsActive.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("fanout", fanout),
	))
}

// RecordSubscriptionRemoved records a removed subscription.
func (m *Metrics) RecordSubscriptionRemoved(fanout string) {
	m.subscriptionsActive.Add(context.Background(), -1, metric.WithAttributes(
		attribute.String("fanout", fanout),
	))
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}

// RecordPublishDuration records publish processing time.
func (m *Metrics) RecordPublishDuration(durationMs float64) {
	m.publishDuration.Record(context.Background(), durationMs)
}
