package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"xmtp-legacy/services/messages/internal/observability/metrics"
	"xmtp-legacy/services/messages/internal/observability/middleware"
	"xmtp-legacy/services/messages/internal/service"
	"xmtp-legacy/services/messages/pkg/envelope"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

const maxBodyBytes = 8 << 20

type Handler struct {
	svc  *service.Service
	poll time.Duration
}

func NewRouter(svc *service.Service, poll time.Duration) *http.ServeMux {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	h := &Handler{svc: svc, poll: poll}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/message/v1/publish", h.handlePublish)
	mux.HandleFunc("/message/v1/query", h.handleQuery)
	mux.HandleFunc("/message/v1/batch-query", h.handleBatchQuery)
	mux.HandleFunc("/message/v1/subscribe", h.handleSubscribe)
	return mux
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reqID := middleware.RequestIDFromContext(r.Context())
	var req envelope.PublishRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		slog.Warn("publish decode failed", "error", err, "request_id", reqID)
		return
	}
	results, err := h.svc.Publish(r.Context(), req.Envelopes)
	if err != nil {
		writeServiceError(w, err)
		slog.Warn("publish failed", "error", err, "request_id", reqID)
		return
	}
	resp := envelope.PublishResponse{Envelopes: make([]envelope.Envelope, 0, len(results))}
	for _, res := range results {
		outcome := "duplicate"
		if res.Created {
			outcome = "stored"
			metrics.EnvelopeBytes.WithLabelValues(topicKind(res.Envelope.ContentTopic)).Observe(float64(len(res.Envelope.Message)))
		}
		metrics.EnvelopesPublishedTotal.WithLabelValues(outcome).Inc()
		resp.Envelopes = append(resp.Envelopes, res.Envelope)
	}
	slog.Info("envelopes published", "count", len(results), "request_id", reqID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req envelope.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		slog.Warn("query failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	metrics.QueriesTotal.WithLabelValues("single").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req envelope.BatchQueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resps, err := h.svc.BatchQuery(r.Context(), req.Requests)
	if err != nil {
		writeServiceError(w, err)
		slog.Warn("batch query failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	metrics.QueriesTotal.WithLabelValues("batch").Inc()
	writeJSON(w, http.StatusOK, envelope.BatchQueryResponse{Responses: resps})
}

// handleSubscribe streams new envelopes on the requested topics as JSON
// websocket messages, starting from the log head at connect time.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	topics := r.URL.Query()["topic"]
	if err := service.ValidateTopics(topics); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	head, err := h.svc.Head(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		slog.Error("subscribe head failed", "error", err)
		return
	}
	reqID := middleware.RequestIDFromContext(r.Context())
	server := websocket.Server{
		// Origin is not checked; browsers reach this through the gateway's CORS policy.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			metrics.ActiveSubscriptions.WithLabelValues().Inc()
			defer metrics.ActiveSubscriptions.WithLabelValues().Dec()
			slog.Info("subscription opened", "topics", len(topics), "request_id", reqID)
			if err := h.stream(conn, topics, head); err != nil {
				slog.Debug("subscription closed", "error", err, "request_id", reqID)
			}
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Handler) stream(conn *websocket.Conn, topics []string, head uint64) error {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	// The client never sends; a read error means it went away.
	go func() {
		defer cancel()
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
	}()

	cur := service.NewCursor(head)
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		envs, err := h.svc.Poll(ctx, topics, cur)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if err := websocket.JSON.Send(conn, env); err != nil {
				return err
			}
		}
		if len(envs) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// topicKind is the topic's category (dm, invite, contact, ...) for metric
// labels; the identifier itself is unbounded.
func topicKind(topic string) string {
	kind, _ := envelope.TopicKind(topic)
	return kind
}
