package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// ─── Result Envelope ────────────────────────────────────────────────────────
// Mutations answer {"ok": value} or {"err": {...}}. Queries answer the
// requested value directly; their failures use the same err envelope.

type okEnvelope struct {
	OK any `json:"ok"`
}

type errBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Unpaid  []string         `json:"unpaid,omitempty"`
}

type errEnvelope struct {
	Err errBody `json:"err"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput, domain.KindInvalidAmount:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindInsufficientFunds, domain.KindOverFunding:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidState, domain.KindDuplicateApproval, domain.KindDuplicateIdentity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", zap.Error(err))
	}
}

// writeOK wraps a mutation result in the ok envelope.
func writeOK(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, okEnvelope{OK: v})
}

// writeFailure writes err with the status its kind maps to.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	writeErr(w, r, statusFor(domain.KindOf(err)), err)
}

// writeErr writes the err envelope. Internal faults are logged with the
// full cause and answered with a generic message.
func writeErr(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errBody{Kind: domain.KindOf(err), Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		if de.Message != "" {
			body.Message = de.Message
		}
		body.Unpaid = de.Unpaid
	}
	if body.Kind == domain.KindInternal {
		logger.ErrorCtx(r.Context(), err, zap.String("path", r.URL.Path))
		body.Message = "internal error"
	}
	observability.APIErrors.WithLabelValues(string(body.Kind)).Inc()
	writeJSON(w, status, errEnvelope{Err: body})
}

// ─── Request Decoding ───────────────────────────────────────────────────────

const maxBodyBytes = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Failures come back
// as InvalidInput.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Errorf(domain.KindInvalidInput, "request body is empty")
		}
		return domain.Errorf(domain.KindInvalidInput, "malformed request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Errorf(domain.KindInvalidInput, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), validationMessage(e)))
	}
	return domain.Errorf(domain.KindInvalidInput, "%s", strings.Join(msgs, "; "))
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "unique":
		return "must not contain duplicates"
	default:
		return "invalid value"
	}
}

// list keeps empty collections encoding as [] rather than null.
func list[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
