package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/orchestrator"
	"github.com/vrsandeep/fastchecker/internal/panel"
)

type checkRequest struct {
	models.BatchInput
	Text string `json:"text"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Text != "" {
		req.ItemIDs = append(req.ItemIDs, models.ParseItemIDs(req.Text)...)
	}

	runID, items, err := s.app.Runner().Start(req.BatchInput)
	if err != nil {
		if errors.Is(err, orchestrator.ErrMissingCredentials) || errors.Is(err, orchestrator.ErrNoItems) {
			RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"items":  items,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	wasRunning := s.app.Runner().Stop()
	RespondWithJSON(w, http.StatusOK, map[string]bool{
		"success":     true,
		"was_running": wasRunning,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Panel().Snapshot())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rows := s.app.Panel().Export()
	if r.URL.Query().Get("format") != "csv" {
		RespondWithJSON(w, http.StatusOK, rows)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
	if err := panel.WriteCSV(w, rows); err != nil {
		s.app.Logger().Errorf("Failed to write CSV export: %v", err)
	}
}

func (s *Server) handleGetManualResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.app.Runner().ManualResults(r.Context())
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load manual results")
		return
	}
	RespondWithJSON(w, http.StatusOK, results)
}

func (s *Server) handleRequestMarketPrices(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ItemID  string   `json:"item_id"`
		Markets []string `json:"markets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ItemID == "" {
		RespondWithError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	requestID, err := s.app.Runner().RequestMarketPrices(payload.ItemID, payload.Markets)
	if err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}
