package engine

import "sync/atomic"

// Stats is a snapshot of the engine's cumulative counters since start.
type Stats struct {
	RulesCreated     int64 `json:"rules_created"`
	RulesDeleted     int64 `json:"rules_deleted"`
	Compiles         int64 `json:"compiles"`
	CompileErrors    int64 `json:"compile_errors"`
	Evaluations      int64 `json:"evaluations"`
	EvaluationErrors int64 `json:"evaluation_errors"`
	TrueVerdicts     int64 `json:"true_verdicts"`
}

// counters holds the live values behind Stats.
type counters struct {
	rulesCreated  atomic.Int64
	rulesDeleted  atomic.Int64
	compiles      atomic.Int64
	compileErrors atomic.Int64
	evals         atomic.Int64
	evalErrors    atomic.Int64
	trueVerdicts  atomic.Int64
}

func (c *counters) compiled(err error) {
	c.compiles.Add(1)
	if err != nil {
		c.compileErrors.Add(1)
	}
}

func (c *counters) evaluated(result bool, err error) {
	c.evals.Add(1)
	switch {
	case err != nil:
		c.evalErrors.Add(1)
	case result:
		c.trueVerdicts.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		RulesCreated:     c.rulesCreated.Load(),
		RulesDeleted:     c.rulesDeleted.Load(),
		Compiles:         c.compiles.Load(),
		CompileErrors:    c.compileErrors.Load(),
		Evaluations:      c.evals.Load(),
		EvaluationErrors: c.evalErrors.Load(),
		TrueVerdicts:     c.trueVerdicts.Load(),
	}
}
