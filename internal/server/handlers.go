package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/poiley/approvarr/internal/approval"
)

// handleWebhook acknowledges every well-formed event with 200, whatever
// happened downstream, so the *arr never retries because of us.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logf.FromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		log.Error(err, "Failed to read webhook body")
		writeText(w, http.StatusBadRequest, "Invalid body")
		return
	}
	s.auditWebhook(w, r, body)

	if len(bytes.TrimSpace(body)) == 0 {
		writeText(w, http.StatusBadRequest, "Empty body")
		return
	}

	var ev approval.ReleaseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Info("Rejecting unparseable webhook", "error", err.Error())
		writeText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	result := s.orchestrator.HandleGrab(r.Context(), ev)
	writeText(w, http.StatusOK, result.Message())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	decision, err := s.orchestrator.Approve(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error approving: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, decision.Message())
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	decision, err := s.orchestrator.Reject(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error rejecting: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, decision.Message())
}
