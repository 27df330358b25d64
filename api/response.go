// Package api exposes the management REST surface: a thin JSON translation
// layer over the runtime manager and supervisor.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/KolosalAI/kolosal-agent/types"
)

// errorEnvelope is the uniform non-2xx body: {"error":{type,code,message}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a structured error onto the envelope, honoring an explicit
// HTTP status when the error carries one.
func writeError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternal
	}
	status := types.HTTPStatusFor(code)
	message := err.Error()
	if e, ok := err.(*types.Error); ok {
		if e.HTTPStatus != 0 {
			status = e.HTTPStatus
		}
		message = e.Message
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Type:    string(code),
		Code:    status,
		Message: message,
	}})
}

func writeErrorCode(w http.ResponseWriter, code types.ErrorCode, message string) {
	writeError(w, types.NewError(code, message))
}
