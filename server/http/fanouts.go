// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/fanout/fanout"
	"github.com/absmach/fanout/filter"
	"github.com/go-chi/chi/v5"
)

type messageRequest struct {
	Payload         any               `json:"payload"`
	Headers         map[string]string `json:"headers,omitempty"`
	DedupID         string            `json:"dedup_id,omitempty"`
	DedupByHash     bool              `json:"dedup_by_hash,omitempty"`
	DedupIntervalMs int64             `json:"dedup_interval_ms,omitempty"`
	TTLMs           int64             `json:"ttl_ms,omitempty"`
}

func (m messageRequest) args() fanout.MessageArgs[any] {
	return fanout.MessageArgs[any]{
		Payload:       m.Payload,
		Headers:       m.Headers,
		DedupID:       m.DedupID,
		DedupByHash:   m.DedupByHash,
		DedupInterval: time.Duration(m.DedupIntervalMs) * time.Millisecond,
		TTL:           time.Duration(m.TTLMs) * time.Millisecond,
	}
}

type publishRequest struct {
	messageRequest
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

type publishResponse struct {
	Published bool                 `json:"published"`
	Message   *fanout.Message[any] `json:"message,omitempty"`
}

type publishManyRequest struct {
	Messages  []messageRequest `json:"messages"`
	TimeoutMs int64            `json:"timeout_ms,omitempty"`
}

type publishManyResponse struct {
	Messages []*fanout.Message[any] `json:"messages"`
}

type subscribeRequest struct {
	Filter *filter.Spec `json:"filter,omitempty"`
}

type expireRequest struct {
	TTLMs int64      `json:"ttl_ms,omitempty"`
	At    *time.Time `json:"at,omitempty"`
}

type fanoutInfo struct {
	Name        string `json:"name"`
	Exists      bool   `json:"exists"`
	Subscribers int    `json:"subscribers"`
}

type resultResponse struct {
	Result bool `json:"result"`
}

// fanout resolves the {fanout} route parameter.
func (s *Server) fanout(w http.ResponseWriter, r *http.Request) (*fanout.Fanout[any], bool) {
	f, err := s.fanouts.Get(chi.URLParam(r, "fanout"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return f, true
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	var req publishRequest
	if !decode(w, r, &req) {
		return
	}

	if !s.limits.AllowPublish(f.Name(), 1) {
		s.logger.Warn("http_publish_rate_limited", slog.String("fanout", f.Name()))
		writeError(w, http.StatusTooManyRequests, "publish rate exceeded")
		return
	}

	msg, err := f.Publish(r.Context(), fanout.PublishArgs[any]{
		Messages: []fanout.MessageArgs[any]{req.args()},
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, publishResponse{Published: msg != nil, Message: msg})
}

func (s *Server) handlePublishMany(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	var req publishManyRequest
	if !decode(w, r, &req) {
		return
	}

	if !s.limits.AllowPublish(f.Name(), len(req.Messages)) {
		s.logger.Warn("http_publish_rate_limited", slog.String("fanout", f.Name()))
		writeError(w, http.StatusTooManyRequests, "publish rate exceeded")
		return
	}

	args := fanout.PublishArgs[any]{
		Messages: make([]fanout.MessageArgs[any], len(req.Messages)),
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	for i, m := range req.Messages {
		args.Messages[i] = m.args()
	}

	msgs, err := f.PublishMany(r.Context(), args)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, publishManyResponse{Messages: msgs})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	subs, err := f.Subscriptions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleIsSubscribed(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	subscribed, err := f.IsSubscribed(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{Result: subscribed})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if !decode(w, r, &req) {
		return
	}

	queueName := chi.URLParam(r, "queue")
	var (
		added bool
		err   error
	)
	if req.Filter != nil {
		added, err = f.SubscribeQueueWithFilter(r.Context(), queueName, *req.Filter)
	} else {
		added, err = f.SubscribeQueue(r.Context(), queueName)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, resultResponse{Result: added})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	removed, err := f.Unsubscribe(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{Result: removed})
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	var spec filter.Spec
	if !decode(w, r, &spec) {
		return
	}

	if err := f.SetFilter(r.Context(), chi.URLParam(r, "queue"), spec); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFilter(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	if err := f.RemoveFilter(r.Context(), chi.URLParam(r, "queue")); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	var req expireRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		applied bool
		err     error
	)
	switch {
	case req.At != nil:
		applied, err = f.ExpireAt(r.Context(), *req.At)
	case req.TTLMs > 0:
		applied, err = f.Expire(r.Context(), time.Duration(req.TTLMs)*time.Millisecond)
	default:
		writeError(w, http.StatusBadRequest, "ttl_ms or at is required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{Result: applied})
}

func (s *Server) handleDeleteFanout(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	deleted, err := f.Delete(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{Result: deleted})
}

func (s *Server) handleFanoutInfo(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fanout(w, r)
	if !ok {
		return
	}

	exists, err := f.Exists(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	count, err := f.CountSubscribers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fanoutInfo{Name: f.Name(), Exists: exists, Subscribers: count})
}
