package errors

import (
	"encoding/json"
	"net/http"

	"github.com/jupyterlab-gpuman/gpuman/pkg/model"
)

// Response returns the wire form of the error.
func (e *ServiceError) Response() model.ErrorResponse {
	return model.ErrorResponse{Code: string(e.Code), Message: e.Message}
}

// WriteHTTP writes the error as a JSON body with its mapped status.
func (e *ServiceError) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e.Response())
}
