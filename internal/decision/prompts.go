// internal/decision/prompts.go
package decision

import (
	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

const preamble = `You are the decision engine of an automated mobile app explorer.
You receive a compact JSON context describing the current screen and run.
Respond with a single JSON object and nothing else.`

// prompt holds the instructions and model tier for one decision type.
type prompt struct {
	system string
	tier   schemas.ModelTier
}

var prompts = map[domain.DecisionType]prompt{
	domain.DecisionChooseAction: {
		tier: schemas.TierPowerful,
		system: preamble + `
Pick the next action from "actions" by its "index", following the exploration
"policy" and the current "plan" if any. Avoid actions with low "safety".
Schema: {"action_index": int, "confidence": 0..1, "rationale": string,
"expected_postcondition": string, "plan": [string]}`,
	},
	domain.DecisionVerify: {
		tier: schemas.TierFast,
		system: preamble + `
Judge whether "last_action" achieved "expected_postcondition" given the screen
change ("delta" 0 means identical screens).
Schema: {"success": bool, "delta_type": "NEW_SCREEN"|"OVERLAY"|"NO_CHANGE"|
"MINOR_UPDATE"|"ERROR_STATE", "observed_change": string, "rationale": string,
"confidence": 0..1}`,
	},
	domain.DecisionDetectProgress: {
		tier: schemas.TierFast,
		system: preamble + `
Classify whether the last iteration advanced exploration, using whether the
screen is new and whether graph nodes or edges were added.
Schema: {"flag": "MADE_PROGRESS"|"NO_PROGRESS"|"REGRESSED"|"UNKNOWN",
"reasoning": string, "confidence": 0..1}`,
	},
	domain.DecisionShouldContinue: {
		tier: schemas.TierFast,
		system: preamble + `
Propose the next route given "counters", "budgets" and "progress".
Schema: {"next_route": "continue"|"switch_policy"|"restart_app"|"escalate"|"stop",
"stop_reason": string, "reasoning": string, "confidence": 0..1}`,
	},
	domain.DecisionSwitchPolicy: {
		tier: schemas.TierFast,
		system: preamble + `
Exploration has stalled. Choose a new policy not in "policies_tried".
Schema: {"new_policy": "breadth"|"depth"|"random"|"targeted",
"reasoning": string, "cooldown_steps": int, "confidence": 0..1}`,
	},
}
