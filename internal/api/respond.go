package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	errs "github.com/podscout/podscout/internal/core/errors"
)

// errorResponse is the body of every non-2xx reply. CorrelationID lets
// a client quote the exact request when filing a report.
type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) //nolint:errcheck // headers are already sent, nothing left to do
}

// writeError maps an error kind to its HTTP status. Internal errors
// are logged with the correlation id and answered with a generic
// message so storage and provider details never leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	cid := correlationID(r.Context())

	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str(logKeyCorrelationID, cid).
			Str("path", r.URL.Path).
			Msg("request failed")

		writeJSON(w, status, errorResponse{Error: "internal error", CorrelationID: cid})

		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), CorrelationID: cid})
}

func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errs.Is(err, errs.ErrNotOwner):
		return http.StatusForbidden
	case errs.Is(err, errs.ErrCampaignNotFound),
		errs.Is(err, errs.ErrMediaNotFound),
		errs.Is(err, errs.ErrDiscoveryNotFound),
		errs.Is(err, errs.ErrReviewTaskNotFound),
		errs.Is(err, errs.ErrMatchNotFound),
		errs.Is(err, errs.ErrProfileNotFound),
		errs.Is(err, errs.ErrTaskNotFound),
		errs.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.ErrIllegalTransition):
		return http.StatusConflict
	case errs.Is(err, errs.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errs.Is(err, errs.ErrInvalidInput),
		errs.Is(err, errs.ErrInvalidID),
		errs.Is(err, errs.ErrDataMissing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into dst. An empty body is
// accepted so optional bodies decode to zero values.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return errs.ErrInvalidInput
	}

	return nil
}
