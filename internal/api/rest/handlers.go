package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	domainwithdrawal "github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req domainwithdrawal.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}

	result := s.service.ProcessWithdrawal(r.Context(), &req)

	status := http.StatusOK
	if !result.Success {
		switch result.ErrorCode {
		case domainwithdrawal.CodeRateLimited:
			status = http.StatusTooManyRequests
		case domainwithdrawal.CodeInternalError,
			domainwithdrawal.CodeSubmissionFailed,
			domainwithdrawal.CodeTransactionTimedOut:
			status = http.StatusBadGateway
		default:
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	txID := r.PathValue("txid")
	status, err := s.service.GetWithdrawalStatus(r.Context(), txID)
	if err != nil {
		s.logger.Error("status lookup failed", zap.String("txid", txID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "STATUS_LOOKUP_FAILED", "could not look up transaction status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUserLimits(w http.ResponseWriter, r *http.Request) {
	remaining, err := s.limiter.Remaining(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "STORE_UNAVAILABLE", "could not read rate limit state")
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

func (s *Server) handleVelocityProbe(w http.ResponseWriter, r *http.Request) {
	amount, err := values.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a zatoshi integer")
		return
	}
	writeJSON(w, http.StatusOK, s.service.CheckVelocity(r.PathValue("userID"), amount))
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "start must be RFC3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "end must be RFC3339")
			return
		}
		end = t
	}

	writeJSON(w, http.StatusOK, s.service.GetComplianceReport(start, end))
}

func (s *Server) handleExportViewingKeys(w http.ResponseWriter, r *http.Request) {
	requestedBy := r.Header.Get("X-Operator-ID")
	if requestedBy == "" {
		writeError(w, http.StatusBadRequest, "MISSING_OPERATOR", "X-Operator-ID header is required")
		return
	}

	bundle, err := s.service.ExportViewingKeys(requestedBy)
	if err != nil {
		writeError(w, http.StatusNotFound, "NO_KEYS", "no viewing keys are registered")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuditIntegrity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Ledger().VerifyIntegrity())
}
