package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stock-anomaly/database"
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Settings are not persisted. GET returns fixed values and POST echoes the body.

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalyThreshold": 0.8,
		"lookbackPeriod":   30,
		"updateFrequency":  "daily",
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Configuration Handlers (Webhooks Only)

func (s *Server) handleGetWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := s.repo.GetWebhooks()
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	if webhooks == nil {
		webhooks = []database.AlertWebhook{}
	}
	respondData(w, http.StatusOK, webhooks)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook database.AlertWebhook
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Reset ID to let DB assign it
	webhook.ID = 0

	if err := s.repo.SaveWebhook(&webhook); err != nil {
		respondWithStoreError(w, err)
		return
	}

	s.refreshWebhooks(r.Context())
	respondData(w, http.StatusCreated, webhook)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	existing, err := s.repo.GetWebhookByID(id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	// Decode over the stored row so omitted fields keep their values
	webhook := *existing
	if err := json.NewDecoder(r.Body).Decode(&webhook); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	webhook.ID = id // Ensure ID matches path
	if err := s.repo.SaveWebhook(&webhook); err != nil {
		respondWithStoreError(w, err)
		return
	}

	s.refreshWebhooks(r.Context())
	respondData(w, http.StatusOK, webhook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	if err := s.repo.DeleteWebhook(id); err != nil {
		respondWithStoreError(w, err)
		return
	}

	s.refreshWebhooks(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// refreshWebhooks drops the webhook manager's cached list
func (s *Server) refreshWebhooks(ctx context.Context) {
	if s.webhookMq != nil {
		s.webhookMq.RefreshCache(ctx)
	}
}
