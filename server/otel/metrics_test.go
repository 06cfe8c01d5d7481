// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	defer otel.SetMeterProvider(prev)

	m, err := NewMetrics()
	require.NoError(t, err)

	m.RecordPublish("orders", ResultDelivered, 128)
	m.RecordPublish("orders", ResultDuplicate, 0)
	m.RecordAdmission("orders", "accepted")
	m.RecordAdmission("orders", "rejected_full")
	m.RecordFilterFailure("orders", "q1")
	m.RecordSubscriptionAdded("orders")
	m.RecordSubscriptionRemoved("orders")
	m.RecordError("registry")
	m.RecordPublishDuration(1.5)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}

	for _, name := range []string{
		"fanout.publish.total",
		"fanout.duplicates.total",
		"fanout.admissions.total",
		"fanout.filter.failures.total",
		"fanout.errors.total",
		"fanout.subscriptions.active",
		"fanout.message.size.bytes",
		"fanout.publish.duration.ms",
	} {
		assert.True(t, names[name], "missing metric %s", name)
	}
}

func TestTracer(t *testing.T) {
	assert.NotNil(t, Tracer())
}
