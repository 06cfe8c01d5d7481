// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"strconv"

	"github.com/absmach/fanout/fanout"
	"github.com/absmach/fanout/queue"
	"github.com/absmach/fanout/queue/types"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPollLimit = 100
	maxPollLimit     = 1000
)

type queueResponse struct {
	Config types.QueueConfig `json:"config"`
	Stats  *queue.QueueStats `json:"stats"`
}

type pollResponse struct {
	Messages []*fanout.Message[any] `json:"messages"`
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")

	cfg, err := s.queues.GetQueue(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.queues.GetStats(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queueResponse{Config: *cfg, Stats: stats})
}

func (s *Server) handlePutQueue(w http.ResponseWriter, r *http.Request) {
	var cfg types.QueueConfig
	if !decode(w, r, &cfg) {
		return
	}
	cfg.Name = chi.URLParam(r, "queue")

	if err := s.queues.PutQueue(r.Context(), cfg); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.queues.DeleteQueue(r.Context(), chi.URLParam(r, "queue")); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePoll removes up to ?limit= messages from the queue and returns them
// decoded.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	limit := defaultPollLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPollLimit)
	}

	queued, err := s.queues.Poll(r.Context(), chi.URLParam(r, "queue"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := pollResponse{Messages: make([]*fanout.Message[any], 0, len(queued))}
	for _, q := range queued {
		msg, err := fanout.Decode[any](s.fanouts.Codec(), q.Data)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Messages = append(resp.Messages, msg)
	}

	writeJSON(w, http.StatusOK, resp)
}
