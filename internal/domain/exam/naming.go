package exam

import "fmt"

// ContrastPolicy controls when the contrast phrase is appended to exam names.
type ContrastPolicy string

const (
	// ContrastAngioOnly appends the phrase for angiography/venography studies only.
	ContrastAngioOnly ContrastPolicy = "angio-only"
	ContrastAlways    ContrastPolicy = "always"
	ContrastNever     ContrastPolicy = "never"
)

// ParseContrastPolicy validates a policy name. Empty selects ContrastAngioOnly.
func ParseContrastPolicy(s string) (ContrastPolicy, error) {
	switch p := ContrastPolicy(s); p {
	case "":
		return ContrastAngioOnly, nil
	case ContrastAngioOnly, ContrastAlways, ContrastNever:
		return p, nil
	}
	return "", fmt.Errorf("unknown contrast policy %q (want angio-only, always or never)", s)
}

// ContrastPhrase returns the contrast wording of a description, or "" when
// none is stated. Combined wording outranks without, which outranks with.
func (c *Classifier) ContrastPhrase(description string) string {
	desc := normalize(description)
	for _, r := range c.rules.Contrast {
		if r.Match(desc) {
			return r.Phrase
		}
	}
	return ""
}

// IsAngioStudy reports whether the modality or the description indicates
// angiography or venography.
func (c *Classifier) IsAngioStudy(m Modality, description string) bool {
	return m.IsAngio() || c.rules.Angio(normalize(description))
}

// ComposeExamName builds the display name, e.g. "CTA Head/Neck w/o Contrast".
func (c *Classifier) ComposeExamName(m Modality, regions Regions, description string) string {
	prefix := string(m)
	switch m {
	case "":
		prefix = string(ModalityOther)
	case ModalityRadiography:
		prefix = "XR"
	}
	label := regions.String()
	if regions.Unknown() {
		label = "Other"
	}
	name := prefix + " " + label

	switch c.policy {
	case ContrastNever:
		return name
	case ContrastAngioOnly:
		if !c.IsAngioStudy(m, description) {
			return name
		}
	}
	if phrase := c.ContrastPhrase(description); phrase != "" {
		name += " " + phrase
	}
	return name
}
