package network

import (
	"net/http"

	"github.com/goccy/go-json"
)

// WriteJSON encodes v with the proper content type. Encoding failures
// after the header is out can only be logged by the caller's middleware.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON parses the request body into v and answers 400 itself on
// malformed input. Returns false when the handler should bail out.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}
