package wallet

import (
	"fmt"
	"regexp"
	"strings"
)

// fieldNamePattern limits policy field names to plain identifier characters.
// Anything resembling markup or script is rejected before a share persists.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\s.]+$`)

const maxFieldNameLen = 100

// ValidateFieldName rejects names that could smuggle markup into a verifier
// page or a stored policy.
func ValidateFieldName(name string) error {
	if name == "" || len(name) > maxFieldNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidFieldName, name)
	}
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFieldName, name)
	}
	return nil
}

// BuildPolicy produces a disclosure policy for the given preset over the
// credential's field set. Overrides apply only to the custom preset; fields
// without an override stay hidden there. The result always defines a
// visibility for every field in credentialFields.
//
// Returns ErrEmptyDisclosure when nothing would be visible or masked, so a
// share that discloses nothing can never be issued.
func BuildPolicy(preset Preset, credentialFields []string, overrides map[string]Visibility) (DisclosurePolicy, error) {
	vis := make(map[string]Visibility, len(credentialFields))

	switch preset {
	case PresetFull:
		for _, f := range credentialFields {
			vis[f] = VisibilityVisible
		}
	case PresetLite:
		// Lite shows essential fields only and never masks.
		for _, f := range credentialFields {
			if isEssentialField(f) {
				vis[f] = VisibilityVisible
			} else {
				vis[f] = VisibilityHidden
			}
		}
	case PresetCustom:
		for _, f := range credentialFields {
			vis[f] = VisibilityHidden
		}
		for f, v := range overrides {
			if err := ValidateFieldName(f); err != nil {
				return DisclosurePolicy{}, err
			}
			switch v {
			case VisibilityVisible, VisibilityMasked, VisibilityHidden:
			default:
				return DisclosurePolicy{}, fmt.Errorf("%w: visibility %q for field %q", ErrInvalidFieldName, v, f)
			}
			vis[f] = v
		}
	default:
		return DisclosurePolicy{}, fmt.Errorf("%w: unknown preset %q", ErrEmptyDisclosure, preset)
	}

	if !disclosesAnything(vis) {
		return DisclosurePolicy{}, ErrEmptyDisclosure
	}
	return DisclosurePolicy{Preset: preset, FieldVisibility: vis}, nil
}

func disclosesAnything(vis map[string]Visibility) bool {
	for _, v := range vis {
		if v == VisibilityVisible || v == VisibilityMasked {
			return true
		}
	}
	return false
}

// Apply filters a credential payload through the policy. Visible fields pass
// through, masked fields are redacted with MaskValue, hidden fields are
// omitted entirely. Fields missing from the policy map fall back to the
// preset default: visible for full, hidden for custom, the essential-field
// heuristic for lite. Pure and idempotent.
func (p DisclosurePolicy) Apply(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload))
	for field, value := range payload {
		switch p.visibilityFor(field) {
		case VisibilityVisible:
			out[field] = value
		case VisibilityMasked:
			out[field] = MaskValue(value)
		}
	}
	return out
}

func (p DisclosurePolicy) visibilityFor(field string) Visibility {
	if v, ok := p.FieldVisibility[field]; ok {
		return v
	}
	switch p.Preset {
	case PresetFull:
		return VisibilityVisible
	case PresetLite:
		if isEssentialField(field) {
			return VisibilityVisible
		}
		return VisibilityHidden
	default:
		return VisibilityHidden
	}
}

// MaskValue keeps the first two and last two characters and replaces the
// middle with asterisks, preserving total length. Values of four characters
// or fewer collapse to "***".
func MaskValue(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}
