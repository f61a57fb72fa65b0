package server

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/engine"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
)

// fields are the payload keys of a response envelope.
type fields map[string]any

// writeSuccess writes {"status":"success", ...payload}.
func writeSuccess(w http.ResponseWriter, status int, payload fields) {
	body := fields{"status": "success"}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeError writes {"status":"error","message":msg, ...extra}.
func writeError(w http.ResponseWriter, status int, msg string, extra fields) {
	body := fields{"status": "error", "message": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("write response")
	}
}

// writeEngineError maps library errors to status codes. Unexpected errors are
// logged and answered with a generic message.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ce *rulelang.CompileError
		de *rulelang.DecodeError
		ee *rulelang.EvalError
	)
	switch {
	case errors.As(err, &ce):
		writeError(w, http.StatusBadRequest, ce.Error(), fields{
			"position": ce.Pos,
			"token":    ce.Token,
		})
	case errors.As(err, &de):
		writeError(w, http.StatusBadRequest, de.Error(), fields{"path": de.Path})
	case errors.As(err, &ee):
		writeError(w, http.StatusUnprocessableEntity, ee.Error(), fields{
			"field": ee.Field,
			"kind":  ee.Kind.Error(),
		})
	case errors.Is(err, engine.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "Rule not found", nil)
	default:
		requestLogger(r).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred", nil)
	}
}

func ruleJSON(rule *engine.Rule) (fields, error) {
	ast, err := rulelang.MarshalNode(rule.AST)
	if err != nil {
		return nil, err
	}
	return fields{
		"id":          rule.ID,
		"name":        rule.Name,
		"rule_string": rule.RuleString,
		"ast":         json.RawMessage(ast),
		"created_at":  rule.CreatedAt,
	}, nil
}
