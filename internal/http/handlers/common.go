package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/coachcall/partner-api/internal/cache"
	"github.com/coachcall/partner-api/internal/http/middleware"
	"github.com/coachcall/partner-api/internal/service"
)

const apiVersion = "v1"

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	jobsService *service.JobsService
	statusCache *cache.StatusCache
	validate    *validator.Validate
}

func NewAPI(jobsService *service.JobsService, statusCache *cache.StatusCache) *API {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &API{
		jobsService: jobsService,
		statusCache: statusCache,
		validate:    validate,
	}
}

type errorPayload struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// validationMessage flattens the first field error into a partner-readable
// message.
func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		first := fieldErrors[0]
		switch first.Tag() {
		case "required":
			return first.Field() + " is required"
		case "url":
			return first.Field() + " must be a valid URL"
		case "oneof":
			return first.Field() + " must be one of: " + first.Param()
		case "max":
			return first.Field() + " exceeds the maximum length of " + first.Param()
		default:
			return first.Field() + " is invalid"
		}
	}
	return "request validation failed"
}
