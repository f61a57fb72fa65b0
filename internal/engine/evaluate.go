package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/observability"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
)

// Evaluate evaluates node against data.
func (e *Engine) Evaluate(ctx context.Context, node rulelang.Node, data rulelang.Context) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "evaluate")
	result, err := e.evaluate(ctx, "", node, data)
	observability.EndSpanWithError(span, err)
	return result, err
}

// EvaluateRule loads the stored rule id and evaluates it against data.
// It returns ErrRuleNotFound if no such rule exists.
func (e *Engine) EvaluateRule(ctx context.Context, id string, data rulelang.Context) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "evaluate_rule", attribute.String("rule.id", id))
	result, err := e.evaluateRule(ctx, id, data)
	observability.EndSpanWithError(span, err)
	return result, err
}

func (e *Engine) evaluateRule(ctx context.Context, id string, data rulelang.Context) (bool, error) {
	node, err := e.ruleNode(ctx, id)
	if err != nil {
		return false, err
	}
	return e.evaluate(ctx, id, node, data)
}

// Explain evaluates node against data and returns the per-node trace.
func (e *Engine) Explain(ctx context.Context, node rulelang.Node, data rulelang.Context) (*rulelang.TraceResult, error) {
	ctx, span := observability.StartSpan(ctx, "explain")

	start := time.Now()
	tr, err := rulelang.Trace(node, data)
	result := err == nil && tr.Result
	e.metrics.RecordEvaluation(ctx, "", time.Since(start), result, err)
	e.stats.evaluated(result, err)

	observability.EndSpanWithError(span, err)
	return tr, err
}

// ExplainRule is Explain for a stored rule.
func (e *Engine) ExplainRule(ctx context.Context, id string, data rulelang.Context) (*rulelang.TraceResult, error) {
	node, err := e.ruleNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Explain(ctx, node, data)
}

func (e *Engine) ruleNode(ctx context.Context, id string) (rulelang.Node, error) {
	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.decode(rec)
}

func (e *Engine) evaluate(ctx context.Context, ruleID string, node rulelang.Node, data rulelang.Context) (bool, error) {
	start := time.Now()
	result, err := rulelang.Evaluate(node, data)
	elapsed := time.Since(start)

	e.metrics.RecordEvaluation(ctx, ruleID, elapsed, result, err)
	e.stats.evaluated(result, err)

	if e.logger.Logger.IsLevelEnabled(log.DebugLevel) {
		fields := log.Fields{"result": result, "duration": elapsed}
		if ruleID != "" {
			fields["rule_id"] = ruleID
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		e.logger.WithFields(fields).Debug("rule evaluated")
	}
	return result, err
}
