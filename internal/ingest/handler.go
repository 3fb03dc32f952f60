package ingest

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/trendscope/evidence-cli/internal/store"
)

// SignatureHeader carries the hex HMAC of the raw callback body.
const SignatureHeader = "X-Crawler-Signature"

const maxCallbackBody = 10 << 20 // 10 MB

// Handler returns the HTTP handler for the crawler callback endpoint.
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		if !s.VerifySignature(body, r.Header.Get(SignatureHeader)) {
			zap.L().Warn("callback signature rejected", zap.Int("body_len", len(body)))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}

		payload, err := ParsePayload(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
			return
		}

		if _, err := s.store.GetJob(r.Context(), payload.JobID); err != nil {
			if store.IsNotFound(err) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
				return
			}
			zap.L().Error("callback job lookup failed", zap.String("job_id", payload.JobID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}

		// The callback is authoritative, so the write is unconditional.
		if err := s.Apply(r.Context(), payload, false); err != nil {
			zap.L().Error("callback ingestion failed", zap.String("job_id", payload.JobID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingestion failed"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "job_id": payload.JobID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
