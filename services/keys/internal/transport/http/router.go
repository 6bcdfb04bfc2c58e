package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"xmtp-legacy/services/keys/internal/dto"
	"xmtp-legacy/services/keys/internal/observability/metrics"
	"xmtp-legacy/services/keys/internal/observability/middleware"
	"xmtp-legacy/services/keys/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

func NewRouter(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/keys/contact", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			publishContact(svc, w, r)
		case http.MethodGet:
			lookupContact(svc, w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Operator-only; the gateway guards /admin routes.
	mux.HandleFunc("/keys/admin/contact", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reqID := middleware.RequestIDFromContext(r.Context())
		address := r.URL.Query().Get("address")
		if err := svc.DeleteContact(r.Context(), address); err != nil {
			writeServiceError(w, err)
			slog.Warn("contact delete failed", "error", err, "address", address, "request_id", reqID)
			return
		}
		slog.Info("contact deleted", "address", address, "request_id", reqID)
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func publishContact(svc *service.Service, w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())
	var req dto.PublishContactRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		metrics.ContactsPublishedTotal.WithLabelValues("failure").Inc()
		slog.Warn("contact publish decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	res, err := svc.PublishContact(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		metrics.ContactsPublishedTotal.WithLabelValues("failure").Inc()
		slog.Warn("contact publish failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}
	outcome := "stale"
	if res.Stored {
		outcome = "stored"
	}
	metrics.ContactsPublishedTotal.WithLabelValues(outcome).Inc()
	slog.Info("contact published", "address", res.Address, "version", res.Version, "stored", res.Stored, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusOK, res)
}

func lookupContact(svc *service.Service, w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		metrics.ContactLookupsTotal.WithLabelValues("failure").Inc()
		return
	}
	res, err := svc.LookupContact(r.Context(), address)
	if err != nil {
		writeServiceError(w, err)
		outcome := "failure"
		if errors.Is(err, service.ErrNotFound) {
			outcome = "miss"
		}
		metrics.ContactLookupsTotal.WithLabelValues(outcome).Inc()
		slog.Debug("contact lookup failed", "error", err, "address", address, "request_id", reqID)
		return
	}
	metrics.ContactLookupsTotal.WithLabelValues("hit").Inc()
	writeJSON(w, http.StatusOK, res)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
