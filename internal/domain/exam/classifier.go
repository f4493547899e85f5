package exam

import (
	"slices"
	"strings"
)

const (
	ruleEmptyDescription = "desc.empty"
	ruleDefaultModality  = "desc.default"
	ruleEmptyRegion      = "region.empty"
	ruleDefaultRegion    = "region.default"
)

// Classifier assigns modality, regions and exam names using a RuleSet.
// It holds no mutable state and is safe for concurrent use. Returned regions
// never alias the rule tables.
type Classifier struct {
	rules  *RuleSet
	policy ContrastPolicy
}

// NewClassifier returns a classifier over rules. A nil rule set selects
// DefaultRules and an empty policy selects ContrastAngioOnly.
func NewClassifier(rules *RuleSet, policy ContrastPolicy) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	if policy == "" {
		policy = ContrastAngioOnly
	}
	return &Classifier{rules: rules, policy: policy}
}

// Rules returns the rule set backing the classifier.
func (c *Classifier) Rules() *RuleSet { return c.rules }

// Policy returns the contrast policy used when naming exams.
func (c *Classifier) Policy() ContrastPolicy { return c.policy }

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// Classify routes to the code classifier when a non-blank code is present and
// to the description classifier otherwise.
func (c *Classifier) Classify(code *string, description string) Classification {
	if code != nil && strings.TrimSpace(*code) != "" {
		return c.ClassifyByCode(*code, description)
	}
	return c.ClassifyByDescription(description)
}

// ClassifyByCode classifies a record from its procedure code, consulting the
// description where the code family is ambiguous or carries no region.
// Codes with an unrecognized prefix are classified by description alone.
func (c *Classifier) ClassifyByCode(code, description string) Classification {
	code = strings.ToUpper(strings.TrimSpace(code))
	desc := normalize(description)

	var rule *CodeModalityRule
	for i := range c.rules.CodeModality {
		if c.rules.CodeModality[i].Match(code) {
			rule = &c.rules.CodeModality[i]
			break
		}
	}
	if rule == nil {
		return c.classifyDescription(desc)
	}

	out := Classification{Modality: rule.Result, ModalityRule: rule.ID}
	if rule.Ambiguous {
		for _, r := range c.rules.AmbiguousCode {
			if r.Match(desc) {
				out.Modality = r.resolve(desc)
				out.ModalityRule = r.ID
				break
			}
		}
	}

	rest := strings.TrimPrefix(code, rule.Prefix)
	for _, r := range c.rules.CodeRegion[rule.Family] {
		if r.Match(rest, desc) {
			out.Regions = slices.Clone(r.Regions)
			out.RegionRule = r.ID
			return out
		}
	}
	out.Regions, out.RegionRule = c.regions(desc)
	return out
}

// ClassifyByDescription classifies a record from its free-text description.
func (c *Classifier) ClassifyByDescription(description string) Classification {
	return c.classifyDescription(normalize(description))
}

func (c *Classifier) classifyDescription(desc string) Classification {
	var out Classification
	out.Modality, out.ModalityRule = c.modality(desc)
	out.Regions, out.RegionRule = c.regions(desc)
	return out
}

func (c *Classifier) modality(desc string) (Modality, string) {
	if desc == "" {
		return ModalityOther, ruleEmptyDescription
	}
	for _, r := range c.rules.DescModality {
		if r.Match(desc) {
			return r.resolve(desc), r.ID
		}
	}
	return ModalityOther, ruleDefaultModality
}

// regions extracts body regions from a normalized description. Combination
// patterns win outright; otherwise every matching single pattern contributes
// in table order, followed by nuclear-medicine inference and the catch-alls.
func (c *Classifier) regions(desc string) (Regions, string) {
	if desc == "" {
		return Regions{RegionUnknown}, ruleEmptyRegion
	}
	for _, r := range c.rules.RegionCombos {
		if r.Match(desc) {
			return slices.Clone(r.Regions), r.ID
		}
	}

	var found []BodyRegion
	var ids []string
	for _, r := range c.rules.RegionSingles {
		if r.Match(desc) {
			found = append(found, r.Regions...)
			ids = append(ids, r.ID)
		}
	}
	if len(found) > 0 {
		return NewRegions(found...), strings.Join(ids, "+")
	}

	for _, table := range [][]RegionRule{c.rules.RegionNM, c.rules.RegionCatchAll} {
		for _, r := range table {
			if r.Match(desc) {
				return slices.Clone(r.Regions), r.ID
			}
		}
	}
	return Regions{RegionUnknown}, ruleDefaultRegion
}
