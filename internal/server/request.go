package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/valyala/fastjson"
)

// readJSON reads and parses the request body with p. It writes the error
// response itself and returns nil when the request is unusable. The returned
// value is valid until p is put back into the pool.
func (s *RuleServer) readJSON(w http.ResponseWriter, r *http.Request, p *fastjson.Parser, required ...string) *fastjson.Value {
	if !isJSON(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Request must be JSON", nil)
		return nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), nil)
			return nil
		}
		writeError(w, http.StatusBadRequest, "Failed to read body", nil)
		return nil
	}

	v, err := p.ParseBytes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), nil)
		return nil
	}
	if v.Type() != fastjson.TypeObject {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object", nil)
		return nil
	}

	var missing []string
	for _, f := range required {
		if !v.Exists(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "), nil)
		return nil
	}
	return v
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// optionalString returns the string at key, "" when absent, or an error when
// the key holds another type.
func optionalString(v *fastjson.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return "", nil
	}
	if f.Type() != fastjson.TypeString {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return string(f.GetStringBytes()), nil
}

// optionalBool returns the boolean at key, false when absent.
func optionalBool(v *fastjson.Value, key string) (bool, error) {
	f := v.Get(key)
	if f == nil || f.Type() == fastjson.TypeNull {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
