package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

// PolicyRule is a boolean expression every checkout must satisfy. Rules are
// evaluated in Priority order (lower first); ties keep their configured order.
type PolicyRule struct {
	ID         string `mapstructure:"id" json:"id"`
	Expression string `mapstructure:"expression" json:"expression"`
	Message    string `mapstructure:"message" json:"message"`
	Priority   int    `mapstructure:"priority" json:"priority"`
}

// DefaultRules applies when no rules are configured.
var DefaultRules = []PolicyRule{
	{ID: "positive_amount", Expression: "amount > 0", Message: "booking amount must be greater than zero"},
}

// Params are the values a rule expression can refer to.
type Params struct {
	Amount              float64
	Days                int
	PricePerDay         float64
	ProtectionPlanPrice float64
	WithDriver          bool
	Currency            string
}

func (p Params) toMap() map[string]interface{} {
	return map[string]interface{}{
		"amount":                p.Amount,
		"days":                  float64(p.Days),
		"price_per_day":         p.PricePerDay,
		"protection_plan_price": p.ProtectionPlanPrice,
		"with_driver":           p.WithDriver,
		"currency":              p.Currency,
	}
}

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision struct {
	Allowed bool
	RuleID  string // the first rule that failed, if any
	Message string
}

type compiledRule struct {
	PolicyRule
	expr *govaluate.EvaluableExpression
}

// CheckoutPolicyEnforcer evaluates checkout rules against a priced booking.
type CheckoutPolicyEnforcer struct {
	rules []compiledRule
}

// NewCheckoutPolicyEnforcer compiles rules. A nil or empty slice yields an
// enforcer that allows everything; callers wanting the defaults pass
// DefaultRules.
func NewCheckoutPolicyEnforcer(rules []PolicyRule) (*CheckoutPolicyEnforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{PolicyRule: r, expr: expr})
	}
	sort.SliceStable(compiled, func(i, j int) bool { return compiled[i].Priority < compiled[j].Priority })
	return &CheckoutPolicyEnforcer{rules: compiled}, nil
}

// Rules returns the rules in evaluation order.
func (e *CheckoutPolicyEnforcer) Rules() []PolicyRule {
	out := make([]PolicyRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.PolicyRule
	}
	return out
}

// Evaluate returns the decision for p. The first rule that evaluates to
// false denies the checkout. A rule that fails to evaluate or yields a
// non-boolean is an error.
func (e *CheckoutPolicyEnforcer) Evaluate(p Params) (PolicyDecision, error) {
	params := p.toMap()
	for _, r := range e.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("failed to evaluate rule ID '%s': %w", r.ID, err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return PolicyDecision{}, fmt.Errorf("rule ID '%s' did not evaluate to a boolean (got %T)", r.ID, result)
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("checkout rejected by rule %s", r.ID)
			}
			return PolicyDecision{Allowed: false, RuleID: r.ID, Message: msg}, nil
		}
	}
	return PolicyDecision{Allowed: true}, nil
}

// Check is Evaluate reported as an error: a denied checkout becomes a
// validation GatewayError carrying the rule message.
func (e *CheckoutPolicyEnforcer) Check(p Params) error {
	const op = "policy: checkout"
	d, err := e.Evaluate(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !d.Allowed {
		return adapter.NewValidationError(op, d.Message, d.RuleID)
	}
	return nil
}
