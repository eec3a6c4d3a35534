// Package access defines the authorization rules and the zones of proofs they
// are evaluated against.
//
// A rule is a boolean expression over the resources that the caller can prove
// to own. Rules are evaluated against the union of the evidence of every
// proof visible at the time of the check, so the order in which proofs were
// pushed never changes the outcome.
package access

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/resource"
	"golang.org/x/xerrors"
)

// ErrUnauthorized is returned when a rule is not satisfied.
var ErrUnauthorized = xerrors.New("unauthorized")

// Op is the operator of a rule node.
type Op string

const (
	// OpAllowAll is always satisfied.
	OpAllowAll Op = "allow_all"
	// OpDenyAll is never satisfied.
	OpDenyAll Op = "deny_all"
	// OpRequire is satisfied by any positive amount of the resource.
	OpRequire Op = "require"
	// OpRequireAmount is satisfied when the amount of the resource reaches
	// the threshold.
	OpRequireAmount Op = "require_amount"
	// OpRequireNonFungibles is satisfied when every identifier is proven.
	OpRequireNonFungibles Op = "require_non_fungibles"
	// OpAllOf is satisfied when every sub-rule is.
	OpAllOf Op = "all_of"
	// OpAnyOf is satisfied when at least one sub-rule is.
	OpAnyOf Op = "any_of"
	// OpNot is satisfied when its sub-rule is not.
	OpNot Op = "not"
)

// Rule is a node of an authorization rule tree.
type Rule struct {
	Op       Op              `json:"op"`
	Resource address.NodeID  `json:"resource,omitempty"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
	IDs      []string        `json:"ids,omitempty"`
	Rules    []Rule          `json:"rules,omitempty"`
}

// AllowAll returns a rule that is always satisfied.
func AllowAll() Rule {
	return Rule{Op: OpAllowAll}
}

// DenyAll returns a rule that is never satisfied.
func DenyAll() Rule {
	return Rule{Op: OpDenyAll}
}

// Require returns a rule satisfied by the presence of the resource.
func Require(res address.NodeID) Rule {
	return Rule{Op: OpRequire, Resource: res}
}

// RequireAmount returns a rule satisfied by at least the amount of the
// resource. For non-fungible resources, the amount is a number of
// identifiers.
func RequireAmount(amount decimal.Decimal, res address.NodeID) Rule {
	return Rule{Op: OpRequireAmount, Resource: res, Amount: amount}
}

// RequireNonFungibles returns a rule satisfied when every identifier of the
// resource is proven.
func RequireNonFungibles(res address.NodeID, ids ...string) Rule {
	return Rule{Op: OpRequireNonFungibles, Resource: res, IDs: ids}
}

// AllOf returns the conjunction of the rules.
func AllOf(rules ...Rule) Rule {
	return Rule{Op: OpAllOf, Rules: rules}
}

// AnyOf returns the disjunction of the rules.
func AnyOf(rules ...Rule) Rule {
	return Rule{Op: OpAnyOf, Rules: rules}
}

// Not returns the negation of the rule.
func Not(rule Rule) Rule {
	return Rule{Op: OpNot, Rules: []Rule{rule}}
}

// Check returns nil if the union of evidence satisfies the rule, otherwise
// an error wrapping ErrUnauthorized.
func (r Rule) Check(union Union) error {
	ok, err := r.eval(union)
	if err != nil {
		return xerrors.Errorf("malformed rule: %v", err)
	}

	if !ok {
		return xerrors.Errorf("rule %v: %w", r, ErrUnauthorized)
	}

	return nil
}

func (r Rule) eval(union Union) (bool, error) {
	switch r.Op {
	case OpAllowAll:
		return true, nil
	case OpDenyAll:
		return false, nil
	case OpRequire:
		return union.Amount(r.Resource).IsPositive(), nil
	case OpRequireAmount:
		return union.Amount(r.Resource).GreaterThanOrEqual(r.Amount), nil
	case OpRequireNonFungibles:
		return union.IDs(r.Resource).Contains(resource.NewIDSet(r.IDs...)), nil
	case OpAllOf:
		for _, sub := range r.Rules {
			ok, err := sub.eval(union)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case OpAnyOf:
		for _, sub := range r.Rules {
			ok, err := sub.eval(union)
			if err != nil || ok {
				return ok, err
			}
		}

		return false, nil
	case OpNot:
		if len(r.Rules) != 1 {
			return false, xerrors.Errorf("not expects 1 rule, got %d", len(r.Rules))
		}

		ok, err := r.Rules[0].eval(union)

		return !ok, err
	default:
		return false, xerrors.Errorf("unknown operator '%s'", r.Op)
	}
}

// String implements fmt.Stringer. It returns a compact text form of the rule.
func (r Rule) String() string {
	switch r.Op {
	case OpAllowAll, OpDenyAll:
		return string(r.Op)
	case OpRequire:
		return fmt.Sprintf("require(%v)", r.Resource)
	case OpRequireAmount:
		return fmt.Sprintf("require_amount(%v, %v)", r.Amount, r.Resource)
	case OpRequireNonFungibles:
		return fmt.Sprintf("require_non_fungibles(%v, [%s])", r.Resource, strings.Join(r.IDs, " "))
	default:
		subs := make([]string, len(r.Rules))
		for i, sub := range r.Rules {
			subs[i] = sub.String()
		}

		return fmt.Sprintf("%s(%s)", r.Op, strings.Join(subs, ", "))
	}
}

// MethodRules maps the methods of a component to their rule.
type MethodRules struct {
	Methods map[string]Rule `json:"methods,omitempty"`
	Default Rule            `json:"default"`
}

// NewMethodRules returns the rules of a component where any method without
// an explicit rule uses the default one.
func NewMethodRules(def Rule) MethodRules {
	return MethodRules{
		Methods: make(map[string]Rule),
		Default: def,
	}
}

// Set assigns the rule of a method.
func (m MethodRules) Set(method string, rule Rule) MethodRules {
	methods := make(map[string]Rule, len(m.Methods)+1)
	for k, v := range m.Methods {
		methods[k] = v
	}

	methods[method] = rule

	return MethodRules{Methods: methods, Default: m.Default}
}

// Get returns the rule of the method.
func (m MethodRules) Get(method string) Rule {
	rule, found := m.Methods[method]
	if !found {
		return m.Default
	}

	return rule
}
