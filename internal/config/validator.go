package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers governor-specific validation rules.
// Must be called before validating GovernorConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("tier", validateTier); err != nil {
		return fmt.Errorf("failed to register tier validator: %w", err)
	}
	return nil
}

// validateTier validates a trust tier name against the fixed five-tier set.
func validateTier(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "untrusted", "restricted", "standard", "trusted", "privileged":
		return true
	default:
		return false
	}
}

// Validate validates the GovernorConfig using struct tags and custom
// cross-field rules. Returns an error if validation fails, with actionable
// error messages.
func (c *GovernorConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validatePolicyIDsUnique(); err != nil {
		return err
	}
	if err := c.validateRuleIDsUnique(); err != nil {
		return err
	}
	if err := c.validateWindowReferences(); err != nil {
		return err
	}
	if err := c.validateTrustRange(); err != nil {
		return err
	}
	if err := c.validateEscalateTargets(); err != nil {
		return err
	}

	return nil
}

// validatePolicyIDsUnique ensures no two declared policies share an id; a
// collision would make the later one silently shadow the earlier one in
// the policy store's id-keyed map.
func (c *GovernorConfig) validatePolicyIDsUnique() error {
	seen := make(map[string]struct{}, len(c.Policies))
	for _, p := range c.Policies {
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("policies: duplicate id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// validateRuleIDsUnique ensures rule ids are unique within their policy;
// matched-effect attribution in a Verdict identifies a rule by (policyID,
// ruleID), so a collision would make two distinct rules indistinguishable
// in the audit trail.
func (c *GovernorConfig) validateRuleIDsUnique() error {
	for _, p := range c.Policies {
		seen := make(map[string]struct{}, len(p.Rules))
		for _, r := range p.Rules {
			if _, ok := seen[r.ID]; ok {
				return fmt.Errorf("policy %q: duplicate rule id %q", p.ID, r.ID)
			}
			seen[r.ID] = struct{}{}
		}
	}
	return nil
}

// validateWindowReferences ensures every time condition's windowRef names a
// window declared in the top-level timeWindows map, recursing through
// composite (any) and negation (not) conditions.
func (c *GovernorConfig) validateWindowReferences() error {
	for _, p := range c.Policies {
		for _, r := range p.Rules {
			for _, cond := range r.Conditions {
				if err := c.checkConditionWindowRefs(cond); err != nil {
					return fmt.Errorf("policy %q rule %q: %w", p.ID, r.ID, err)
				}
			}
		}
	}
	return nil
}

func (c *GovernorConfig) checkConditionWindowRefs(cond ConditionConfig) error {
	if cond.Time != nil && cond.Time.WindowRef != "" {
		if _, ok := c.TimeWindows[cond.Time.WindowRef]; !ok {
			return fmt.Errorf("condition references unknown time window %q", cond.Time.WindowRef)
		}
	}
	for _, sub := range cond.Any {
		if err := c.checkConditionWindowRefs(sub); err != nil {
			return err
		}
	}
	if cond.Not != nil {
		if err := c.checkConditionWindowRefs(*cond.Not); err != nil {
			return err
		}
	}
	return nil
}

// validateTrustRange ensures every rule's minTrust/maxTrust pair, when both
// are set, is a non-empty range in the fixed tier order.
func (c *GovernorConfig) validateTrustRange() error {
	order := map[string]int{"untrusted": 0, "restricted": 1, "standard": 2, "trusted": 3, "privileged": 4}
	for _, p := range c.Policies {
		for _, r := range p.Rules {
			if r.MinTrust == "" || r.MaxTrust == "" {
				continue
			}
			if order[r.MinTrust] > order[r.MaxTrust] {
				return fmt.Errorf("policy %q rule %q: minTrust %q is above maxTrust %q", p.ID, r.ID, r.MinTrust, r.MaxTrust)
			}
		}
	}
	return nil
}

// validateEscalateTargets ensures every escalate effect names a target; an
// escalation with nowhere to route is a config mistake, not a runtime one.
func (c *GovernorConfig) validateEscalateTargets() error {
	for _, p := range c.Policies {
		for _, r := range p.Rules {
			if r.Effect.Kind == "escalate" && r.Effect.Target == "" {
				return fmt.Errorf("policy %q rule %q: escalate effect requires a target", p.ID, r.ID)
			}
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "tier":
		return fmt.Sprintf("%s must be a valid trust tier", field)
	case "required_with":
		return fmt.Sprintf("%s is required alongside %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
