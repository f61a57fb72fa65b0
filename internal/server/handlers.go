package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
)

// post rejects every method except POST.
func (s *RuleServer) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
}

func (s *RuleServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	writeJSON(w, http.StatusOK, fields{"status": "ok"})
}

// handleRules serves GET and POST /api/rules.
func (s *RuleServer) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRules(w, r)
	case http.MethodPost:
		s.createRule(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleRuleItem serves /api/rules/{id} and /api/rules/{id}/evaluate.
func (s *RuleServer) handleRuleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rules/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "Resource not found", nil)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.getRule(w, r, id)
		case http.MethodDelete:
			s.deleteRule(w, r, id)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case "evaluate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.evaluateStored(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Resource not found", nil)
	}
}

func (s *RuleServer) createRule(w http.ResponseWriter, r *http.Request) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v := s.readJSON(w, r, p, "rule_string")
	if v == nil {
		return
	}
	ruleString, err := optionalString(v, "rule_string")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	name, err := optionalString(v, "name")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	rule, err := s.engine.CreateRule(r.Context(), name, ruleString)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	body, err := ruleJSON(rule)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	requestLogger(r).WithField("rule_id", rule.ID).Info("rule created")
	writeSuccess(w, http.StatusCreated, body)
}

func (s *RuleServer) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.engine.Rules(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]fields, 0, len(rules))
	for _, rule := range rules {
		body, err := ruleJSON(rule)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		out = append(out, body)
	}
	writeSuccess(w, http.StatusOK, fields{"rules": out, "count": len(out)})
}

func (s *RuleServer) getRule(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := s.engine.Rule(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	body, err := ruleJSON(rule)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, body)
}

func (s *RuleServer) deleteRule(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.engine.DeleteRule(r.Context(), id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, fields{"message": "Rule deleted", "id": id})
}

func (s *RuleServer) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v := s.readJSON(w, r, p, "rule_string")
	if v == nil {
		return
	}
	ruleString, err := optionalString(v, "rule_string")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	node, err := s.engine.Compile(r.Context(), ruleString)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	ast, err := rulelang.MarshalNode(node)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, fields{
		"ast":    json.RawMessage(ast),
		"fields": rulelang.Fields(node),
		"depth":  rulelang.Depth(node),
	})
}

func (s *RuleServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	s.post(s.evaluateAST)(w, r)
}

// evaluateAST evaluates a client-supplied tree: {"ast":{...},"data":{...}}.
// The tree may also be sent as a JSON-encoded string.
func (s *RuleServer) evaluateAST(w http.ResponseWriter, r *http.Request) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v := s.readJSON(w, r, p, "ast", "data")
	if v == nil {
		return
	}

	astValue := v.Get("ast")
	var inner fastjson.Parser
	if astValue.Type() == fastjson.TypeString {
		parsed, err := inner.ParseBytes(astValue.GetStringBytes())
		if err != nil {
			writeError(w, http.StatusBadRequest, "ast must be a JSON object", nil)
			return
		}
		astValue = parsed
	}
	node, err := rulelang.NodeFromJSON(astValue)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	s.evaluate(w, r, v, "", node)
}

func (s *RuleServer) evaluateStored(w http.ResponseWriter, r *http.Request, id string) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v := s.readJSON(w, r, p, "data")
	if v == nil {
		return
	}
	s.evaluate(w, r, v, id, nil)
}

// evaluate runs the stored rule ruleID, or node when ruleID is empty, against
// the "data" object of req. It traces when "explain" is true.
func (s *RuleServer) evaluate(w http.ResponseWriter, r *http.Request, req *fastjson.Value, ruleID string, node rulelang.Node) {
	data, err := rulelang.ContextFromJSON(req.Get("data"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data: "+err.Error(), nil)
		return
	}
	explain, err := optionalBool(req, "explain")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	body := fields{}
	if ruleID != "" {
		body["id"] = ruleID
	}

	if explain {
		var tr *rulelang.TraceResult
		if ruleID != "" {
			tr, err = s.engine.ExplainRule(r.Context(), ruleID, data)
		} else {
			tr, err = s.engine.Explain(r.Context(), node, data)
		}
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		body["result"] = tr.Result
		body["trace"] = tr
		writeSuccess(w, http.StatusOK, body)
		return
	}

	var result bool
	if ruleID != "" {
		result, err = s.engine.EvaluateRule(r.Context(), ruleID, data)
	} else {
		result, err = s.engine.Evaluate(r.Context(), node, data)
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	body["result"] = result
	writeSuccess(w, http.StatusOK, body)
}

func (s *RuleServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeSuccess(w, http.StatusOK, fields{
		"stats":          s.engine.Stats(),
		"requests":       s.requestCount.Load(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
