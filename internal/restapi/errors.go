package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"overlay.onebusaway.org/internal/logging"
	"overlay.onebusaway.org/internal/models"
)

func (api *RestAPI) logError(r *http.Request, err error) {
	logger := logging.FromContext(r.Context())
	logging.LogError(logger, "request failed", err)
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	api.logError(r, err)
	api.sendError(w, r, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

func (api *RestAPI) badRequestResponse(w http.ResponseWriter, r *http.Request, message string) {
	api.sendError(w, r, http.StatusBadRequest, message)
}

// validationErrorResponse reports per-field problems in the data section.
func (api *RestAPI) validationErrorResponse(w http.ResponseWriter, r *http.Request, fieldErrors map[string][]string) {
	setJSONResponseType(&w)
	w.WriteHeader(http.StatusBadRequest)

	response := models.ResponseModel{
		Code:        http.StatusBadRequest,
		CurrentTime: models.ResponseCurrentTime(api.Clock),
		Data:        map[string]any{"fieldErrors": fieldErrors},
		Text:        "validation error",
		Version:     2,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.logError(r, err)
	}
}

// decodeJSONBody reads a single JSON object into dst and validates its struct tags.
// The returned map is non-nil when the body was well formed but failed validation.
func (api *RestAPI) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) (map[string][]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	if err := api.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		fieldErrors := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fieldErrors[fe.Field()] = append(fieldErrors[fe.Field()], fmt.Sprintf("failed on the '%s' rule", fe.Tag()))
		}
		return fieldErrors, nil
	}
	return nil, nil
}
