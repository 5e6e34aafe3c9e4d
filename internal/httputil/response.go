// Package httputil holds the JSON response helpers shared by the middleware
// and the session endpoints.
package httputil

import (
	"encoding/json"
	"net/http"
	"strings"

	autherrors "github.com/lukaszraczylo/sessionbridge/internal/errors"
)

// ErrorBody is the JSON body of every failed auth response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v) // Safe to ignore: client gone
}

// WriteError writes err as {success:false, error} using its public message
// and mapped status. Internal causes never reach the body.
func WriteError(rw http.ResponseWriter, err error) {
	WriteJSON(rw, autherrors.HTTPStatus(err), ErrorBody{Success: false, Error: autherrors.PublicMessage(err)})
}

// WantsJSON reports whether the client asked for a JSON answer rather than a
// redirect.
func WantsJSON(req *http.Request) bool {
	return req.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.Contains(req.Header.Get("Accept"), "application/json") ||
		strings.Contains(req.Header.Get("Content-Type"), "application/json")
}
