// internal/decision/plane.go
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/cache"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/progress"
	"github.com/xkilldash9x/screengraph/internal/retry"
	"github.com/xkilldash9x/screengraph/internal/salience"
	"github.com/xkilldash9x/screengraph/internal/signature"
)

// RationaleKind is the blob kind rationales are stored under.
const RationaleKind = "rationale"

// summaryLen bounds the rationale text kept inline in the state.
const summaryLen = 120

// heuristicModel stands in for the model id when no decider is configured.
const heuristicModel = "heuristic"

// Deps are the collaborators of a Plane. Only Arbiter is required; without a
// Decider every decision is heuristic.
type Deps struct {
	Decider   schemas.Decider
	Cache     schemas.DecisionCache
	Ledger    schemas.BudgetLedger
	Blobs     schemas.BlobStore
	Telemetry schemas.Telemetry
	Arbiter   *progress.Arbiter
}

// Options tune the plane's guardrails.
type Options struct {
	// HighRiskConfidence is the minimum confidence to accept a high-risk action.
	HighRiskConfidence float64
	Retry              retry.Policy
	TopK               int
	LastNEvents        int
}

// DefaultOptions returns the stock guardrails.
func DefaultOptions() Options {
	return Options{
		HighRiskConfidence: 0.8,
		Retry:              retry.DefaultPolicy(),
		TopK:               salience.DefaultK,
		LastNEvents:        domain.LastNEvents,
	}
}

// Outcome reports how a decision was reached and what it cost.
type Outcome struct {
	Source domain.AdviceSource
	Calls  int
	Tokens int
	Cost   float64
}

// Update folds the outcome into the run counters.
func (o Outcome) Update() domain.Update {
	return domain.Counted(func(c *domain.Counters) {
		c.LLMCalls += o.Calls
		c.TokensUsed += o.Tokens
		if o.Source == domain.SourceCache {
			c.CacheHits++
		}
	})
}

// Plane runs the five decision points: cache lookup, context shaping, the
// external call with retries, guardrails, heuristic fallback, rationale
// storage and usage accounting.
type Plane struct {
	decider  schemas.Decider
	cache    schemas.DecisionCache
	ledger   schemas.BudgetLedger
	blobs    schemas.BlobStore
	tel      schemas.Telemetry
	arbiter  *progress.Arbiter
	heur     Heuristics
	shaper   *salience.Shaper
	retry    retry.Policy
	highRisk float64
	logger   *zap.Logger
}

// NewPlane assembles a decision plane.
func NewPlane(deps Deps, opts Options, logger *zap.Logger) (*Plane, error) {
	if deps.Arbiter == nil {
		return nil, errors.New("decision plane requires an arbiter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HighRiskConfidence <= 0 {
		opts.HighRiskConfidence = DefaultOptions().HighRiskConfidence
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Plane{
		decider:  deps.Decider,
		cache:    deps.Cache,
		ledger:   deps.Ledger,
		blobs:    deps.Blobs,
		tel:      deps.Telemetry,
		arbiter:  deps.Arbiter,
		heur:     NewHeuristics(deps.Arbiter),
		shaper:   salience.NewShaper(opts.TopK, opts.LastNEvents),
		retry:    opts.Retry,
		highRisk: opts.HighRiskConfidence,
		logger:   logger.Named("decision_plane"),
	}, nil
}

// ModelID names the model behind the plane's decisions.
func (p *Plane) ModelID() string {
	if p.decider == nil {
		return heuristicModel
	}
	return p.decider.ModelID()
}

// Arbiter exposes the routing arbiter shared with the orchestrator.
func (p *Plane) Arbiter() *progress.Arbiter { return p.arbiter }

// request describes one decision for resolve.
type request[T any] struct {
	decision  domain.DecisionType
	key       cache.Key
	invoke    func(context.Context, domain.Diet) (T, schemas.DecisionUsage, error)
	check     func(T) (T, error)
	fallback  func() T
	rationale func(T) string
	setRef    func(*T, string)
}

// resolve runs one decision through cache, decider and guardrails. It never
// fails: every error path ends in the heuristic answer.
func resolve[T any](ctx context.Context, p *Plane, st domain.AgentState, r request[T]) (T, Outcome) {
	key := r.key.String()
	if p.cache != nil {
		if raw, ok := p.cache.Get(key); ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				if v, err := r.check(cached); err == nil {
					p.observe(r.decision, domain.SourceCache)
					return v, Outcome{Source: domain.SourceCache}
				}
			}
			p.logger.Debug("Discarding unusable cache entry.", zap.String("key", key))
			p.cache.Discard(key)
		}
	}

	if p.decider == nil || !p.affordable(st) {
		p.observe(r.decision, domain.SourceHeuristic)
		return r.fallback(), Outcome{Source: domain.SourceHeuristic}
	}

	diet := p.shaper.Shape(r.decision, st)
	out := Outcome{Source: domain.SourceLLM}
	var result T
	attempts, err := retry.Do(ctx, p.retry, retry.Transient, func(ctx context.Context) error {
		res, usage, err := r.invoke(ctx, diet)
		out.Tokens += usage.Tokens
		out.Cost += usage.Cost
		if p.ledger != nil {
			p.ledger.TrackTokens(st.RunID, usage.Tokens, usage.Cost)
		}
		if usage.Tokens > st.Budgets.MaxTokensPerCall {
			p.logger.Warn("Decision call exceeded the per-call token cap.",
				zap.String("decision", string(r.decision)),
				zap.Int("tokens", usage.Tokens),
				zap.Int("cap", st.Budgets.MaxTokensPerCall))
			p.metric("token_cap_exceeded", 1, r.decision)
		}
		if err != nil {
			return err
		}
		result = res
		return nil
	}, func(err error, wait time.Duration) {
		p.logger.Warn("Decision call failed, retrying.",
			zap.String("decision", string(r.decision)), zap.Duration("wait", wait), zap.Error(err))
	})
	out.Calls = attempts
	p.metric("llm_tokens", float64(out.Tokens), r.decision)

	if err != nil {
		p.logger.Warn("Decision call failed, using heuristic.", zap.String("decision", string(r.decision)), zap.Error(err))
		p.metric("decision_fallbacks", 1, r.decision)
		out.Source = domain.SourceHeuristic
		p.observe(r.decision, out.Source)
		return r.fallback(), out
	}

	checked, err := r.check(result)
	if err != nil {
		p.logger.Warn("Decision output failed validation, using heuristic.",
			zap.String("decision", string(r.decision)), zap.Error(err))
		p.metric("invalid_outputs", 1, r.decision)
		out.Source = domain.SourceHeuristic
		p.observe(r.decision, out.Source)
		return r.fallback(), out
	}

	if text := r.rationale(checked); text != "" && p.blobs != nil {
		ref, err := p.blobs.Put(ctx, RationaleKind, []byte(text))
		if err != nil {
			p.logger.Warn("Failed to store rationale.", zap.Error(err))
		} else {
			r.setRef(&checked, ref)
		}
	}
	if p.cache != nil {
		if raw, err := json.Marshal(checked); err == nil {
			p.cache.Set(key, r.decision, raw)
		}
	}
	p.observe(r.decision, out.Source)
	return checked, out
}

// affordable is false once another call could push tokens past the budget.
func (p *Plane) affordable(st domain.AgentState) bool {
	if st.Counters.TokensUsed+st.Budgets.MaxTokensPerCall > st.Budgets.MaxTokens {
		return false
	}
	if p.ledger != nil && p.ledger.IsBudgetExceeded(st.RunID, st.Budgets) {
		return false
	}
	return true
}

func (p *Plane) observe(decision domain.DecisionType, source domain.AdviceSource) {
	if p.tel == nil {
		return
	}
	p.tel.Metric("decisions", 1, map[string]string{"decision": string(decision), "source": string(source)})
}

func (p *Plane) metric(name string, v float64, decision domain.DecisionType) {
	if p.tel == nil {
		return
	}
	p.tel.Metric(name, v, map[string]string{"decision": string(decision)})
}

// -- Decision points --

// ChooseAction selects the next action from st.Actions.
func (p *Plane) ChooseAction(ctx context.Context, st domain.AgentState) (domain.ChosenAction, Outcome) {
	return resolve(ctx, p, st, request[domain.ChosenAction]{
		decision: domain.DecisionChooseAction,
		key:      p.chooseKey(st),
		invoke: func(ctx context.Context, d domain.Diet) (domain.ChosenAction, schemas.DecisionUsage, error) {
			return p.decider.ChooseAction(ctx, d)
		},
		check:     func(c domain.ChosenAction) (domain.ChosenAction, error) { return p.guardChoice(st, c) },
		fallback:  func() domain.ChosenAction { return p.heur.ChooseAction(st) },
		rationale: func(c domain.ChosenAction) string { return c.Rationale },
		setRef: func(c *domain.ChosenAction, ref string) {
			c.RationaleRef = ref
			c.Rationale = summarize(c.Rationale)
		},
	})
}

// chooseKey identifies a ChooseAction answer: the screen, the offered
// actions, the plan position and the policy.
func (p *Plane) chooseKey(st domain.AgentState) cache.Key {
	return cache.Key{
		Decision:  domain.DecisionChooseAction,
		Model:     p.ModelID(),
		Signature: sigHash(st),
		Delta:     deltaHash(st),
		Context:   salience.TopKHash(st.Actions),
		Extra:     fmt.Sprintf("cursor=%d|policy=%s", st.PlanCursor, st.Policy),
	}
}

// guardChoice enforces index bounds, confidence range, plan length and the
// high-risk rule.
func (p *Plane) guardChoice(st domain.AgentState, c domain.ChosenAction) (domain.ChosenAction, error) {
	if c.ActionIndex < 0 || c.ActionIndex >= len(st.Actions) {
		return c, fmt.Errorf("action index %d out of range [0,%d)", c.ActionIndex, len(st.Actions))
	}
	if !domain.ValidConfidence(c.Confidence) {
		return c, fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	if len(c.Plan) > domain.MaxPlanSteps {
		c.Plan = c.Plan[:domain.MaxPlanSteps]
	}
	if st.Actions[c.ActionIndex].Candidate.HighRisk() && c.Confidence < p.highRisk {
		safe := salience.SafeFallback(st.Actions)
		if safe < 0 {
			return c, errors.New("high-risk action rejected and no safe fallback exists")
		}
		p.logger.Info("Replacing low-confidence high-risk action.",
			zap.Int("rejected", c.ActionIndex), zap.Int("fallback", safe), zap.Float64("confidence", c.Confidence))
		c.Rationale = fmt.Sprintf("high-risk action %d rejected at confidence %.2f; %s", c.ActionIndex, c.Confidence, c.Rationale)
		c.ActionIndex = safe
		c.ExpectedPostcondition = st.Actions[safe].Candidate.ExpectedPostcondition
	}
	return c, nil
}

// Verify judges the effect of the last action.
func (p *Plane) Verify(ctx context.Context, st domain.AgentState) (domain.VerificationResult, Outcome) {
	var lastAction, post string
	if st.LastAction != nil {
		lastAction = st.LastAction.Key()
	}
	if st.Chosen != nil {
		post = st.Chosen.ExpectedPostcondition
	}
	return resolve(ctx, p, st, request[domain.VerificationResult]{
		decision: domain.DecisionVerify,
		key: cache.Key{
			Decision:  domain.DecisionVerify,
			Model:     p.ModelID(),
			Signature: sigHash(st),
			Delta:     deltaHash(st),
			Context:   lastAction,
			Extra:     digest(post, st.CurrentApp),
		},
		invoke: func(ctx context.Context, d domain.Diet) (domain.VerificationResult, schemas.DecisionUsage, error) {
			return p.decider.Verify(ctx, d)
		},
		check: func(v domain.VerificationResult) (domain.VerificationResult, error) {
			if !v.DeltaType.IsValid() {
				return v, fmt.Errorf("unknown delta type %q", v.DeltaType)
			}
			if !domain.ValidConfidence(v.Confidence) {
				return v, fmt.Errorf("confidence %v outside [0,1]", v.Confidence)
			}
			return v, nil
		},
		fallback:  func() domain.VerificationResult { return p.heur.Verify(st) },
		rationale: func(v domain.VerificationResult) string { return v.Rationale },
		setRef: func(v *domain.VerificationResult, ref string) {
			v.RationaleRef = ref
			v.Rationale = summarize(v.Rationale)
		},
	})
}

// DetectProgress classifies the iteration. The model's answer is combined
// with the heuristic signals through the arbiter.
func (p *Plane) DetectProgress(ctx context.Context, st domain.AgentState) (domain.ProgressAssessment, Outcome) {
	var nodes, edges int
	if st.LastPersist != nil {
		nodes, edges = st.LastPersist.NodesAdded, st.LastPersist.EdgesAdded
	}
	var deltaType domain.DeltaType
	if st.Verification != nil {
		deltaType = st.Verification.DeltaType
	}
	res, out := resolve(ctx, p, st, request[domain.ProgressAssessment]{
		decision: domain.DecisionDetectProgress,
		key: cache.Key{
			Decision:  domain.DecisionDetectProgress,
			Model:     p.ModelID(),
			Signature: sigHash(st),
			Delta:     deltaHash(st),
			Context:   fmt.Sprintf("n%d|e%d|%s", nodes, edges, deltaType),
			Extra:     st.CurrentApp,
		},
		invoke: func(ctx context.Context, d domain.Diet) (domain.ProgressAssessment, schemas.DecisionUsage, error) {
			return p.decider.DetectProgress(ctx, d)
		},
		check: func(a domain.ProgressAssessment) (domain.ProgressAssessment, error) {
			if !a.Flag.IsValid() {
				return a, fmt.Errorf("unknown progress flag %q", a.Flag)
			}
			if !domain.ValidConfidence(a.Confidence) {
				return a, fmt.Errorf("confidence %v outside [0,1]", a.Confidence)
			}
			return a, nil
		},
		fallback:  func() domain.ProgressAssessment { return p.heur.DetectProgress(st) },
		rationale: func(a domain.ProgressAssessment) string { return a.Reasoning },
		setRef: func(a *domain.ProgressAssessment, ref string) {
			a.RationaleRef = ref
			a.Reasoning = summarize(a.Reasoning)
		},
	})
	if out.Source == domain.SourceHeuristic {
		return res, out
	}
	return p.arbiter.Assess(st, &res), out
}

// ShouldContinue proposes the next route. The orchestrator arbitrates it.
func (p *Plane) ShouldContinue(ctx context.Context, st domain.AgentState) (domain.RoutingDecision, Outcome) {
	var flag domain.ProgressFlag
	if st.Progress != nil {
		flag = st.Progress.Flag
	}
	return resolve(ctx, p, st, request[domain.RoutingDecision]{
		decision: domain.DecisionShouldContinue,
		key: cache.Key{
			Decision: domain.DecisionShouldContinue,
			Model:    p.ModelID(),
			Context:  salience.CountersHash(st.Counters),
			Extra:    digest(salience.BudgetsHash(st.Budgets), string(flag), fmt.Sprint(st.NoProgressStreak), string(st.Policy), st.CurrentApp),
		},
		invoke: func(ctx context.Context, d domain.Diet) (domain.RoutingDecision, schemas.DecisionUsage, error) {
			return p.decider.ShouldContinue(ctx, d)
		},
		check: func(r domain.RoutingDecision) (domain.RoutingDecision, error) {
			if !r.NextRoute.IsValid() {
				return r, fmt.Errorf("unknown route %q", r.NextRoute)
			}
			if r.StopReason != domain.StopNone && !r.StopReason.IsValid() {
				return r, fmt.Errorf("unknown stop reason %q", r.StopReason)
			}
			if !domain.ValidConfidence(r.Confidence) {
				return r, fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
			}
			return r, nil
		},
		fallback:  func() domain.RoutingDecision { return p.heur.ShouldContinue(st) },
		rationale: func(r domain.RoutingDecision) string { return r.Reasoning },
		setRef: func(r *domain.RoutingDecision, ref string) {
			r.RationaleRef = ref
			r.Reasoning = summarize(r.Reasoning)
		},
	})
}

// SwitchPolicy proposes a new exploration policy.
func (p *Plane) SwitchPolicy(ctx context.Context, st domain.AgentState) (domain.PolicySwitch, Outcome) {
	tried := make([]string, len(st.PoliciesTried))
	for i, pol := range st.PoliciesTried {
		tried[i] = string(pol)
	}
	return resolve(ctx, p, st, request[domain.PolicySwitch]{
		decision: domain.DecisionSwitchPolicy,
		key: cache.Key{
			Decision: domain.DecisionSwitchPolicy,
			Model:    p.ModelID(),
			Context:  string(st.Policy) + "|" + strings.Join(tried, ","),
			Extra:    salience.CountersHash(st.Counters),
		},
		invoke: func(ctx context.Context, d domain.Diet) (domain.PolicySwitch, schemas.DecisionUsage, error) {
			return p.decider.SwitchPolicy(ctx, d)
		},
		check: func(sw domain.PolicySwitch) (domain.PolicySwitch, error) {
			if !sw.NewPolicy.IsValid() {
				return sw, fmt.Errorf("unknown policy %q", sw.NewPolicy)
			}
			if !domain.ValidConfidence(sw.Confidence) {
				return sw, fmt.Errorf("confidence %v outside [0,1]", sw.Confidence)
			}
			if sw.CooldownSteps < 0 {
				return sw, fmt.Errorf("negative cooldown %d", sw.CooldownSteps)
			}
			return sw, nil
		},
		fallback:  func() domain.PolicySwitch { return p.heur.SwitchPolicy(st) },
		rationale: func(sw domain.PolicySwitch) string { return sw.Reasoning },
		setRef: func(sw *domain.PolicySwitch, ref string) {
			sw.RationaleRef = ref
			sw.Reasoning = summarize(sw.Reasoning)
		},
	})
}

// AdviceFor condenses a decision result into the state's Advice summary.
func AdviceFor(kind domain.DecisionType, confidence float64, plan []string, ref, summary string, source domain.AdviceSource) *domain.Advice {
	return &domain.Advice{
		Kind:         kind,
		Plan:         slices.Clone(plan),
		Confidence:   confidence,
		RationaleRef: ref,
		Summary:      summarize(summary),
		Source:       source,
	}
}

// -- helpers --

func sigHash(st domain.AgentState) string {
	if st.Signature == nil {
		return ""
	}
	return st.Signature.CompositeHash
}

func deltaHash(st domain.AgentState) string {
	if st.Signature == nil {
		return ""
	}
	return signature.DeltaHash(st.PrevSignature, *st.Signature)
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:8])
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > summaryLen {
		return string(r[:summaryLen-3]) + "..."
	}
	return s
}
