// Package engine compiles, stores and evaluates rules.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/observability"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/pkg/rulelang"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/storage"
)

// ErrRuleNotFound is returned when no stored rule has the requested ID.
var ErrRuleNotFound = errors.New("rule not found")

// MaxNameLength bounds the display name of a stored rule, in characters.
const MaxNameLength = 200

// Rule is a compiled rule held by the store.
type Rule struct {
	ID         string
	Name       string
	RuleString string
	AST        rulelang.Node
	CreatedAt  time.Time
}

// Engine compiles rules, persists them through a storage.Store and evaluates
// them against data contexts. It is safe for concurrent use.
type Engine struct {
	store   storage.Store
	metrics observability.MetricsRecorder
	logger  *log.Entry
	stats   counters

	// cache holds decoded trees of stored rules by ID.
	mu    sync.RWMutex
	cache map[string]rulelang.Node
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder. The default records through the
// global OpenTelemetry meter provider.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger used for engine events.
func WithLogger(l *log.Entry) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine backed by store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cache: make(map[string]rulelang.Node),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetricsRecorder()
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "engine")
	}
	return e
}

// Compile parses rule without storing it.
func (e *Engine) Compile(ctx context.Context, rule string) (rulelang.Node, error) {
	ctx, span := observability.StartSpan(ctx, "compile")
	node, err := e.compile(ctx, rule)
	observability.EndSpanWithError(span, err)
	return node, err
}

func (e *Engine) compile(ctx context.Context, rule string) (rulelang.Node, error) {
	start := time.Now()
	node, err := rulelang.Compile(rule)
	e.metrics.RecordCompile(ctx, time.Since(start), err)
	e.stats.compiled(err)
	if err != nil {
		e.logger.WithError(err).Debug("rule rejected")
	}
	return node, err
}

// CreateRule compiles rule and persists it under a fresh ID. An empty name
// defaults to the rule text.
func (e *Engine) CreateRule(ctx context.Context, name, rule string) (*Rule, error) {
	ctx, span := observability.StartSpan(ctx, "create_rule")
	r, err := e.createRule(ctx, name, rule)
	if r != nil {
		span.SetAttributes(attribute.String("rule.id", r.ID))
	}
	observability.EndSpanWithError(span, err)
	return r, err
}

func (e *Engine) createRule(ctx context.Context, name, rule string) (*Rule, error) {
	node, err := e.compile(ctx, rule)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(rule)
	}
	name = truncate(name, MaxNameLength)

	data, err := rulelang.MarshalNode(node)
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}

	now := time.Now().UTC()
	rec := storage.Record{
		ID:         uuid.NewString(),
		Name:       name,
		RuleString: rule,
		AST:        data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}

	e.remember(rec.ID, node)
	e.stats.rulesCreated.Add(1)
	e.logger.WithFields(log.Fields{"rule_id": rec.ID, "depth": rulelang.Depth(node)}).Info("rule created")

	return &Rule{ID: rec.ID, Name: name, RuleString: rule, AST: node, CreatedAt: now}, nil
}

// Rule returns the stored rule with the given ID.
func (e *Engine) Rule(ctx context.Context, id string) (*Rule, error) {
	rec, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	node, err := e.decode(rec)
	if err != nil {
		return nil, err
	}
	return toRule(rec, node), nil
}

// Rules returns all stored rules, newest first. A stored tree that no longer
// decodes is logged and skipped.
func (e *Engine) Rules(ctx context.Context) ([]*Rule, error) {
	recs, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]*Rule, 0, len(recs))
	for _, rec := range recs {
		node, err := e.decode(rec)
		if err != nil {
			e.logger.WithError(err).WithField("rule_id", rec.ID).Warn("skipping unreadable rule")
			continue
		}
		rules = append(rules, toRule(rec, node))
	}
	return rules, nil
}

// DeleteRule removes a stored rule.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	err := e.store.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRuleNotFound
	}
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	e.mu.Lock()
	delete(e.cache, id)
	e.mu.Unlock()

	e.stats.rulesDeleted.Add(1)
	e.logger.WithField("rule_id", id).Info("rule deleted")
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

func (e *Engine) load(ctx context.Context, id string) (storage.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Record{}, ErrRuleNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("load rule: %w", err)
	}
	return rec, nil
}

// decode returns the tree of a stored record, re-validating it on first use.
func (e *Engine) decode(rec storage.Record) (rulelang.Node, error) {
	e.mu.RLock()
	node, ok := e.cache[rec.ID]
	e.mu.RUnlock()
	if ok {
		return node, nil
	}

	node, err := rulelang.UnmarshalNode(rec.AST)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rec.ID, err)
	}
	e.remember(rec.ID, node)
	return node, nil
}

func (e *Engine) remember(id string, node rulelang.Node) {
	e.mu.Lock()
	e.cache[id] = node
	e.mu.Unlock()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func toRule(rec storage.Record, node rulelang.Node) *Rule {
	return &Rule{
		ID:         rec.ID,
		Name:       rec.Name,
		RuleString: rec.RuleString,
		AST:        node,
		CreatedAt:  rec.CreatedAt,
	}
}
