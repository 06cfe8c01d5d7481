// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	kvmemory "github.com/absmach/fanout/kv/memory"
	"github.com/goccy/go-json"
)

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, nil, slog.Default())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, nil, slog.Default())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request returns healthy",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var response HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != "healthy" {
				t.Errorf("expected status healthy, got %q", response.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	closed := kvmemory.New()
	closed.Close()

	tests := []struct {
		name           string
		checks         map[string]Check
		method         string
		expectedStatus int
		expectedReady  bool
	}{
		{
			name:           "no checks",
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "store answers",
			checks:         map[string]Check{"store": StoreCheck(kvmemory.New())},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "store closed",
			checks:         map[string]Check{"store": StoreCheck(closed)},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "one failing check",
			checks: map[string]Check{
				"store":  StoreCheck(kvmemory.New()),
				"queues": func(context.Context) error { return errors.New("down") },
			},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "POST request not allowed",
			checks:         map[string]Check{"store": StoreCheck(kvmemory.New())},
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, tt.checks, slog.Default())

			req := httptest.NewRequest(tt.method, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.method != http.MethodGet {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %q", ct)
			}

			var response ReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if (response.Status == "ready") != tt.expectedReady {
				t.Errorf("unexpected status %q", response.Status)
			}
			for name := range tt.checks {
				if _, ok := response.Checks[name]; !ok {
					t.Errorf("missing check %q in response", name)
				}
			}
		})
	}
}
