package handlers

import (
	"encoding/json"
	"net/http"
)

// decodeLax decodes the json body ignoring absent or malformed input
func decodeLax(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
