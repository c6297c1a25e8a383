package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/apperr"
	"nearGoAPI/middleware"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// EmailResolver maps a Clerk session to the account email.
type EmailResolver interface {
	EmailForSubject(ctx context.Context, clerkID string) (string, error)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"ok":false,"error":"internal_error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	respondWithJSON(w, http.StatusOK, body)
}

func respondWithError(w http.ResponseWriter, code int, errCode string) {
	respondWithJSON(w, code, map[string]any{"ok": false, "error": errCode})
}

// respondWithAppError maps a service error onto its status. Internal causes are logged, never returned.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := apperr.HTTPStatus(ae.Kind)

	if ae.Kind == apperr.KindRateLimited && ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
	}

	entry := log.WithFields(log.Fields{"path": r.URL.Path, "code": ae.Code})
	switch ae.Kind {
	case apperr.KindInternal, apperr.KindUpstream:
		entry.WithError(ae.Err).Error("Request failed")
	default:
		entry.Debug("Request rejected")
	}

	respondWithError(w, status, ae.Code)
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationCode(err))
		return false
	}
	return true
}

// validationCode names the first failing field, e.g. "invalid_purchaser_email".
func validationCode(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if verrs[0].Tag() == "required" {
			return "missing_" + toSnake(verrs[0].Field())
		}
		return "invalid_" + toSnake(verrs[0].Field())
	}
	return "invalid_body"
}

func toSnake(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// sessionEmail resolves the authenticated account's email or writes the error response.
func sessionEmail(w http.ResponseWriter, r *http.Request, accounts EmailResolver) (string, bool) {
	clerkID, ok := middleware.GetClerkID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	email, err := accounts.EmailForSubject(r.Context(), clerkID)
	if err != nil {
		respondWithAppError(w, r, err)
		return "", false
	}
	return email, true
}
