// Package extract converts free-text legal rate descriptions into structured
// duty formulas, deterministic-pattern-first with a narrow AI fallback.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-engine/internal/formula"
	"github.com/sells-group/tariff-engine/internal/model"
	"github.com/sells-group/tariff-engine/internal/resilience"
	"github.com/sells-group/tariff-engine/pkg/anthropic"
)

const extractionSystemText = "You are a customs tariff analyst. Convert legal duty-rate text into a restricted arithmetic formula. Return only a valid JSON object with formula, variables, confidence, and explanation. Confidence is your honest certainty in [0,1]; report 0 when the text encodes no computable rate."

const extractionPrompt = `Convert this tariff rate text into an arithmetic formula.

Rate text:
%s

Allowed variables: value (declared customs value in USD), quantity (units of merchandise), weight (net kilograms).
Allowed syntax: decimal numbers, variable names, + - * /, parentheses, min(...), max(...).

Return a valid JSON object:
{"formula": "<expression>", "variables": ["<referenced variables>"], "confidence": <0.0-1.0>, "explanation": "<brief reasoning>"}`

// Result is the outcome of one formula extraction.
type Result struct {
	Formula     string                 `json:"formula"`
	Variables   []string               `json:"variables"`
	Confidence  float64                `json:"confidence"`
	Method      model.ExtractionMethod `json:"method"`
	Explanation string                 `json:"explanation,omitempty"`
}

// BatchResult pairs one batch entry's outcome with its error, if any.
// Entries are independent: one entry's AI failure never affects another's
// pattern-matched result.
type BatchResult struct {
	Result *Result
	Err    error
}

// CandidateStore persists low-confidence AI proposals for human review.
type CandidateStore interface {
	InsertFormulaCandidate(ctx context.Context, c model.FormulaCandidate) error
}

// Config tunes the extraction engine.
type Config struct {
	Model               string
	MaxTokens           int64
	Timeout             time.Duration
	ConfidenceThreshold float64
	MaxConcurrent       int
	RequestsPerSecond   float64
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	return c
}

// Generator extracts formulas from rate text, pattern-first with AI fallback.
type Generator struct {
	ai         anthropic.Client
	candidates CandidateStore
	cfg        Config
	limiter    *rate.Limiter
	retryCfg   resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewGenerator creates a Generator. ai may be nil, in which case texts that
// no pattern covers fail with ExternalServiceError. candidates may be nil to
// disable the pending-review queue.
func NewGenerator(ai anthropic.Client, candidates CandidateStore, cfg Config) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		ai:         ai,
		candidates: candidates,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retryCfg:   resilience.DefaultRetryConfig(),
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitConfig{}),
	}
}

// Generate converts rate text into a structured formula. A pattern match
// yields method "pattern" with confidence 1; otherwise the AI collaborator
// is consulted and its confidence — including a literal 0 — is passed
// through unmodified.
func (g *Generator) Generate(ctx context.Context, rateText string) (*Result, error) {
	text := strings.TrimSpace(rateText)
	if text == "" {
		return nil, &model.FormulaSyntaxError{Formula: rateText, Reason: "empty rate text"}
	}

	if expr, vars, ok := MatchPattern(text); ok {
		return &Result{
			Formula:    expr,
			Variables:  vars,
			Confidence: 1,
			Method:     model.MethodPattern,
		}, nil
	}

	return g.generateAI(ctx, text)
}

// aiResponse mirrors the strict JSON contract with the AI collaborator.
// Confidence is a pointer so a missing field is distinguishable from a
// reported 0 — zero is a valid, meaningful value.
type aiResponse struct {
	Formula     string   `json:"formula"`
	Variables   []string `json:"variables"`
	Confidence  *float64 `json:"confidence"`
	Explanation string   `json:"explanation"`
}

func (g *Generator) generateAI(ctx context.Context, rateText string) (*Result, error) {
	if g.ai == nil {
		return nil, &model.ExternalServiceError{
			Service: "ai-extraction",
			Err:     eris.New("no AI client configured and no pattern matched"),
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &model.ExternalServiceError{Service: "ai-extraction", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	retryCfg := g.retryCfg
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "generate-formula")

	// The breaker wraps the whole retried call: one exhausted retry run is
	// one failure toward opening the circuit.
	resp, err := resilience.ExecuteVal(callCtx, g.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return g.ai.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     g.cfg.Model,
				MaxTokens: g.cfg.MaxTokens,
				System:    anthropic.BuildCachedSystemBlocks(extractionSystemText),
				Messages: []anthropic.Message{
					{Role: "user", Content: fmt.Sprintf(extractionPrompt, rateText)},
				},
			})
		})
	})
	if err != nil {
		return nil, &model.ExternalServiceError{Service: "ai-extraction", Err: err}
	}

	resp.Usage.LogCost(g.cfg.Model, "formula-extraction")

	parsed, err := parseAIResponse(anthropic.FirstText(resp))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Formula:     parsed.Formula,
		Variables:   parsed.Variables,
		Confidence:  *parsed.Confidence,
		Method:      model.MethodAI,
		Explanation: parsed.Explanation,
	}

	if len(result.Variables) == 0 && result.Formula != "" {
		if vars, varErr := formula.Variables(result.Formula); varErr == nil {
			result.Variables = vars
		}
	}

	if result.Confidence < g.cfg.ConfidenceThreshold {
		g.queueCandidate(ctx, rateText, result)
	}

	return result, nil
}

// parseAIResponse decodes the collaborator's strict-JSON reply and validates
// the formula against the restricted grammar.
func parseAIResponse(text string) (*aiResponse, error) {
	cleaned := cleanJSON(text)

	var parsed aiResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, &model.ExternalServiceError{
			Service: "ai-extraction",
			Err:     eris.Wrap(err, "malformed JSON response"),
		}
	}
	if parsed.Confidence == nil {
		return nil, &model.ExternalServiceError{
			Service: "ai-extraction",
			Err:     eris.New("response missing confidence"),
		}
	}
	if parsed.Formula != "" {
		if err := formula.Validate(parsed.Formula); err != nil {
			return nil, eris.Wrap(err, "extract: AI formula rejected")
		}
	}
	return &parsed, nil
}

// queueCandidate persists a below-threshold result for human review instead
// of auto-applying it. Persistence failure is logged, not fatal: the caller
// still gets the result with its honest confidence.
func (g *Generator) queueCandidate(ctx context.Context, rateText string, r *Result) {
	if g.candidates == nil {
		return
	}
	c := model.FormulaCandidate{
		ID:          uuid.New().String(),
		RateText:    rateText,
		Formula:     r.Formula,
		Variables:   r.Variables,
		Confidence:  r.Confidence,
		Explanation: r.Explanation,
		Status:      model.CandidatePending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := g.candidates.InsertFormulaCandidate(ctx, c); err != nil {
		zap.L().Warn("extract: failed to queue formula candidate",
			zap.String("rate_text", rateText),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("extract: queued low-confidence formula for review",
		zap.String("rate_text", rateText),
		zap.Float64("confidence", r.Confidence),
		zap.Float64("threshold", g.cfg.ConfidenceThreshold),
	)
}

// GenerateBatch resolves each entry independently on a bounded worker pool
// and returns results in input order regardless of completion order.
// Cancellation stops dispatching unscheduled entries; entries already
// completed keep their results.
func (g *Generator) GenerateBatch(ctx context.Context, rateTexts []string) []BatchResult {
	results := make([]BatchResult, len(rateTexts))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.MaxConcurrent)

	for i, text := range rateTexts {
		if ctx.Err() != nil {
			for j := i; j < len(rateTexts); j++ {
				results[j] = BatchResult{Err: ctx.Err()}
			}
			break
		}
		eg.Go(func() error {
			r, err := g.Generate(ctx, text)
			results[i] = BatchResult{Result: r, Err: err}
			return nil
		})
	}

	_ = eg.Wait()
	return results
}

// cleanJSON strips markdown fences and surrounding prose from an AI reply,
// leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
