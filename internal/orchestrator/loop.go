// internal/orchestrator/loop.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/progress"
	"github.com/xkilldash9x/screengraph/internal/retry"
	"github.com/xkilldash9x/screengraph/internal/salience"
)

// gestureSpan is the fraction of the gesture region a swipe travels.
const gestureSpan = 0.6

func (o *Orchestrator) perceive(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	next, err := o.observe(ctx, st)
	if err != nil {
		return o.fail(st, domain.NodePerceive, err)
	}
	return next.WithUpdates(domain.Record(domain.NodePerceive, next.Signature.Short())), domain.NodeEnumerateActions
}

// observe captures the screen and shifts the signature window: the current
// signature becomes the previous one.
func (o *Orchestrator) observe(ctx context.Context, st domain.AgentState) (domain.AgentState, *domain.Error) {
	capture, err := o.perceiver.Capture(ctx)
	if err != nil {
		return st, classify("perceive", domain.CodePageSourceTimeout, err)
	}
	sig := o.signatures.Compute(capture.Screen.Elements, capture.Screen.Text)
	delta := 1.0
	if st.Signature != nil {
		delta = o.signatures.Delta(*st.Signature, sig)
	}
	screen := capture.Screen
	outside := screen.App != "" && screen.App != st.AppID
	o.tel.Metric("captured_bytes", float64(capture.Bytes), nil)

	return st.WithUpdates(func(s *domain.AgentState) {
		s.PrevSignature = s.Signature
		s.Signature = &sig
		s.Delta = delta
		s.Screen = &screen
		s.Bundle = capture.Bundle
		s.CurrentApp = screen.App
		if outside {
			s.Counters.OutsideAppSteps++
		}
	}), nil
}

func (o *Orchestrator) enumerateActions(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	if st.Screen == nil {
		return st, domain.NodePerceive
	}
	actions := salience.Enumerate(o.ranker.Rank(st.Screen.Elements), o.opts.TopK)
	next := st.WithUpdates(func(s *domain.AgentState) {
		s.Actions = actions
		s.Chosen = nil
	}, domain.Record(domain.NodeEnumerateActions, fmt.Sprintf("%d actions", len(actions))))

	if len(actions) == 0 {
		return next, domain.NodeShouldContinue
	}
	return next, domain.NodeChooseAction
}

func (o *Orchestrator) chooseAction(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	choice, out := o.plane.ChooseAction(ctx, st)
	advice := decision.AdviceFor(domain.DecisionChooseAction, choice.Confidence, choice.Plan, choice.RationaleRef, choice.Rationale, out.Source)

	next := st.WithUpdates(out.Update(), func(s *domain.AgentState) {
		s.Advice = advice
		if len(choice.Plan) > 0 && !slices.Equal(s.Plan, choice.Plan) {
			s.Plan = append([]string(nil), choice.Plan...)
			s.PlanCursor = 0
		}
	})

	if choice.ActionIndex < 0 || choice.ActionIndex >= len(st.Actions) {
		return next.WithUpdates(domain.Record(domain.NodeChooseAction, "no executable action")), domain.NodeShouldContinue
	}
	return next.WithUpdates(func(s *domain.AgentState) {
		c := choice
		s.Chosen = &c
	}, domain.Record(domain.NodeChooseAction, fmt.Sprintf("#%d via %s", choice.ActionIndex, out.Source))), domain.NodeAct
}

func (o *Orchestrator) act(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	if st.Chosen == nil || st.Chosen.ActionIndex < 0 || st.Chosen.ActionIndex >= len(st.Actions) {
		return st.WithUpdates(domain.Record(domain.NodeAct, "nothing chosen")), domain.NodeShouldContinue
	}
	action := st.Actions[st.Chosen.ActionIndex].Candidate.Action()
	if err := action.Validate(); err != nil {
		return o.fail(st, domain.NodeAct, domain.NewError(domain.CodeElementNotFound, "act", err))
	}

	actx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
	defer cancel()
	if err := o.execute(actx, action); err != nil {
		return o.fail(st, domain.NodeAct, classify("act", domain.CodeActionTimeout, err))
	}

	if o.ledger != nil {
		o.ledger.TrackStep(st.RunID)
	}
	o.tel.Metric("actions", 1, map[string]string{"verb": string(action.Verb)})

	return st.WithUpdates(domain.Counted(func(c *domain.Counters) {
		c.StepsTotal++
		if action.Verb.CountsAsTap() {
			c.TapsTotal++
		}
	}), func(s *domain.AgentState) {
		a := action
		s.LastAction = &a
		if s.PlanCursor < len(s.Plan) {
			s.PlanCursor++
		}
	}, domain.Record(domain.NodeAct, action.Key())), domain.NodeVerify
}

// execute performs one action on the device.
func (o *Orchestrator) execute(ctx context.Context, a domain.UIAction) error {
	switch a.Verb {
	case domain.VerbTap:
		x, y := a.Target.Center()
		return o.device.Tap(ctx, x, y)
	case domain.VerbLongPress:
		x, y := a.Target.Center()
		return o.device.LongPress(ctx, x, y, o.opts.LongPressHold)
	case domain.VerbType:
		x, y := a.Target.Center()
		if err := o.device.Tap(ctx, x, y); err != nil {
			return err
		}
		return o.device.TypeText(ctx, a.Text)
	case domain.VerbSwipe, domain.VerbScroll:
		fx, fy, tx, ty := gesture(a)
		return o.device.Swipe(ctx, fx, fy, tx, ty)
	case domain.VerbBack:
		return o.device.PressBack(ctx)
	case domain.VerbHome:
		return o.device.PressHome(ctx)
	case domain.VerbWait:
		return retry.Sleep(ctx, o.opts.WaitDuration)
	}
	return fmt.Errorf("unknown action verb %q", a.Verb)
}

// gesture returns the start and end points of a swipe in the action's
// direction, inside its target or across the whole screen.
func gesture(a domain.UIAction) (fromX, fromY, toX, toY float64) {
	region := domain.Bounds{X: 0, Y: 0, W: 1, H: 1}
	if a.Target != nil {
		region = *a.Target
	}
	cx, cy := region.Center()
	dx, dy := region.W*gestureSpan/2, region.H*gestureSpan/2
	switch a.Direction {
	case domain.SwipeUp:
		return cx, cy + dy, cx, cy - dy
	case domain.SwipeDown:
		return cx, cy - dy, cx, cy + dy
	case domain.SwipeLeft:
		return cx + dx, cy, cx - dx, cy
	case domain.SwipeRight:
		return cx - dx, cy, cx + dx, cy
	}
	return cx, cy, cx, cy
}

func (o *Orchestrator) verify(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	if _, err := o.settle(ctx); err != nil {
		return o.fail(st, domain.NodeVerify, err)
	}
	observed, err := o.observe(ctx, st)
	if err != nil {
		return o.fail(st, domain.NodeVerify, err)
	}

	res, out := o.plane.Verify(ctx, observed)
	return observed.WithUpdates(out.Update(), func(s *domain.AgentState) {
		r := res
		s.Verification = &r
		s.Advice = decision.AdviceFor(domain.DecisionVerify, res.Confidence, nil, res.RationaleRef, res.ObservedChange, out.Source)
	}, domain.Record(domain.NodeVerify, string(res.DeltaType))), domain.NodePersist
}

// graphMark is the per-run cache entry noting that a node was written.
func graphMark(id string) string { return "graph:" + id }

func (o *Orchestrator) persist(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	if st.Signature == nil {
		return st, domain.NodeDetectProgress
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.PersistTimeout)
	defer cancel()

	var (
		result domain.PersistResultSummary
		marks  []string
	)
	to, err := o.graph.UpsertNode(ctx, *st.Signature, domain.NodeMeta{RunID: st.RunID, AppID: st.AppID, Bundle: st.Bundle})
	if err != nil {
		return o.fail(st, domain.NodePersist, persistError(err))
	}
	result.NodeID = to.ID
	if to.Created {
		result.NodesAdded++
	}
	marks = append(marks, to.ID)

	if st.PrevSignature != nil && st.LastAction != nil {
		from := *st.PrevSignature
		if _, seen := st.Cache[graphMark(from.CompositeHash)]; !seen {
			res, err := o.graph.UpsertNode(ctx, from, domain.NodeMeta{RunID: st.RunID, AppID: st.AppID})
			if err != nil {
				return o.fail(st, domain.NodePersist, persistError(err))
			}
			if res.Created {
				result.NodesAdded++
			}
			marks = append(marks, res.ID)
		}
		meta := domain.EdgeMeta{RunID: st.RunID}
		if st.Verification != nil {
			meta.Confidence = st.Verification.Confidence
		}
		edge, err := o.graph.UpsertEdge(ctx, from.CompositeHash, to.ID, st.LastAction.Key(), meta)
		if err != nil {
			return o.fail(st, domain.NodePersist, persistError(err))
		}
		result.EdgeID = edge.ID
		if edge.Created {
			result.EdgesAdded++
		}
	}

	if result.NodesAdded > 0 {
		o.tel.Metric("screens_new", float64(result.NodesAdded), nil)
	}
	return st.WithUpdates(func(s *domain.AgentState) {
		r := result
		s.LastPersist = &r
		s.Counters.ScreensNew += result.NodesAdded
		for _, id := range marks {
			s.Cache[graphMark(id)] = "1"
		}
	}, domain.Record(domain.NodePersist, fmt.Sprintf("+%d nodes +%d edges", result.NodesAdded, result.EdgesAdded))), domain.NodeDetectProgress
}

func persistError(err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.NewError(domain.CodeDatabase, "persist", err)
}

func (o *Orchestrator) detectProgress(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	assessment, out := o.plane.DetectProgress(ctx, st)
	o.tel.Metric("progress", 1, map[string]string{"flag": string(assessment.Flag)})
	return st.WithUpdates(out.Update(), progress.ApplyProgress(assessment), func(s *domain.AgentState) {
		s.Advice = decision.AdviceFor(domain.DecisionDetectProgress, assessment.Confidence, nil, assessment.RationaleRef, assessment.Reasoning, out.Source)
	}, domain.Record(domain.NodeDetectProgress, string(assessment.Flag))), domain.NodeShouldContinue
}

// shouldContinue asks for a route and then lets the arbiter overrule it. The
// budget check happens after the decision's own usage is counted.
func (o *Orchestrator) shouldContinue(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	proposal, out := o.plane.ShouldContinue(ctx, st)
	st = st.WithUpdates(out.Update(), elapsed(st))

	final := o.plane.Arbiter().Arbitrate(st, proposal)
	if final.NextRoute != proposal.NextRoute {
		o.runLogger(st).Info("Route overridden",
			zap.String("proposed", string(proposal.NextRoute)),
			zap.String("final", string(final.NextRoute)),
			zap.String("reason", final.Reasoning))
	}
	st = st.WithUpdates(func(s *domain.AgentState) {
		r := final
		s.Routing = &r
		s.Advice = decision.AdviceFor(domain.DecisionShouldContinue, final.Confidence, nil, final.RationaleRef, final.Reasoning, out.Source)
	}, domain.Record(domain.NodeShouldContinue, string(final.NextRoute)))

	switch final.NextRoute {
	case domain.RouteContinue:
		return st, domain.NodePerceive
	case domain.RouteSwitchPolicy:
		return st, domain.NodeSwitchPolicy
	case domain.RouteRestartApp:
		return st, domain.NodeRestartApp
	case domain.RouteEscalate:
		return st.WithUpdates(domain.Stopped(domain.StopEscalated)), domain.NodeStop
	case domain.RouteStop:
		reason := final.StopReason
		if reason == domain.StopNone {
			reason = domain.StopSuccess
		}
		return st.WithUpdates(domain.Stopped(reason)), domain.NodeStop
	}
	return st.WithUpdates(domain.Stopped(domain.StopCrash)), domain.NodeStop
}

func (o *Orchestrator) switchPolicy(ctx context.Context, st domain.AgentState) (domain.AgentState, domain.NodeName) {
	proposal, out := o.plane.SwitchPolicy(ctx, st)
	st = st.WithUpdates(out.Update())

	applied, ok := o.plane.Arbiter().ApplySwitch(st, proposal)
	if !ok {
		return st.WithUpdates(domain.Record(domain.NodeSwitchPolicy, "switch rejected")), domain.NodePerceive
	}
	o.runLogger(st).Info("Policy switched",
		zap.String("from", string(st.Policy)),
		zap.String("to", string(applied.NewPolicy)))
	o.tel.Metric("policy_switches", 1, map[string]string{"policy": string(applied.NewPolicy)})

	return st.WithUpdates(progress.Switched(applied), func(s *domain.AgentState) {
		s.Advice = decision.AdviceFor(domain.DecisionSwitchPolicy, applied.Confidence, nil, applied.RationaleRef, applied.Reasoning, out.Source)
	}, domain.Record(domain.NodeSwitchPolicy, string(applied.NewPolicy))), domain.NodePerceive
}
