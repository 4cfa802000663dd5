package wallet

import (
	"errors"
	"reflect"
	"testing"
)

func TestMaskValue(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "***"},
		{"ab", "***"},
		{"abcd", "***"},
		{"abcde", "ab*de"},
		{"1234567890", "12******90"},
		{"résumé-café", "ré*******fé"},
	}
	for _, tc := range cases {
		if got := MaskValue(tc.in); got != tc.want {
			t.Errorf("MaskValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateFieldName(t *testing.T) {
	valid := []string{"degree", "student name", "gpa_2024", "field-x", "a.b"}
	for _, name := range valid {
		if err := ValidateFieldName(name); err != nil {
			t.Errorf("ValidateFieldName(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "<script>", "a=b", "field;drop", string(make([]byte, 101))}
	for _, name := range invalid {
		if err := ValidateFieldName(name); !errors.Is(err, ErrInvalidFieldName) {
			t.Errorf("ValidateFieldName(%q) = %v, want ErrInvalidFieldName", name, err)
		}
	}
}

func TestBuildPolicyFull(t *testing.T) {
	fields := []string{"degree", "email", "serial"}
	p, err := BuildPolicy(PresetFull, fields, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range fields {
		if p.FieldVisibility[f] != VisibilityVisible {
			t.Errorf("full preset: field %q = %q, want visible", f, p.FieldVisibility[f])
		}
	}
}

func TestBuildPolicyLiteNeverMasks(t *testing.T) {
	fields := []string{"degree", "university", "email", "registration_number"}
	p, err := BuildPolicy(PresetLite, fields, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Visibility{
		"degree":              VisibilityVisible,
		"university":          VisibilityVisible,
		"email":               VisibilityHidden,
		"registration_number": VisibilityHidden,
	}
	if !reflect.DeepEqual(p.FieldVisibility, want) {
		t.Fatalf("lite policy = %v, want %v", p.FieldVisibility, want)
	}
}

func TestBuildPolicyCustomDefaultsHidden(t *testing.T) {
	fields := []string{"degree", "email", "gpa"}
	p, err := BuildPolicy(PresetCustom, fields, map[string]Visibility{
		"degree": VisibilityVisible,
		"email":  VisibilityMasked,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.FieldVisibility["gpa"] != VisibilityHidden {
		t.Fatalf("custom preset must hide unlisted fields, got %q", p.FieldVisibility["gpa"])
	}
}

func TestBuildPolicyRejectsEmptyDisclosure(t *testing.T) {
	_, err := BuildPolicy(PresetCustom, []string{"degree"}, nil)
	if !errors.Is(err, ErrEmptyDisclosure) {
		t.Fatalf("expected ErrEmptyDisclosure, got %v", err)
	}

	// All-hidden overrides are just as empty.
	_, err = BuildPolicy(PresetCustom, []string{"degree"}, map[string]Visibility{
		"degree": VisibilityHidden,
	})
	if !errors.Is(err, ErrEmptyDisclosure) {
		t.Fatalf("expected ErrEmptyDisclosure, got %v", err)
	}
}

func TestBuildPolicyRejectsBadOverride(t *testing.T) {
	_, err := BuildPolicy(PresetCustom, []string{"degree"}, map[string]Visibility{
		"degree": Visibility("translucent"),
	})
	if !errors.Is(err, ErrInvalidFieldName) {
		t.Fatalf("expected ErrInvalidFieldName, got %v", err)
	}
}

func TestApplyFiltersPayload(t *testing.T) {
	p := DisclosurePolicy{
		Preset: PresetCustom,
		FieldVisibility: map[string]Visibility{
			"degree": VisibilityVisible,
			"email":  VisibilityMasked,
			"gpa":    VisibilityHidden,
		},
	}
	payload := map[string]string{
		"degree": "BSc Computer Science",
		"email":  "alice@example.edu",
		"gpa":    "3.9",
	}
	got := p.Apply(payload)
	want := map[string]string{
		"degree": "BSc Computer Science",
		"email":  "al*************du",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply = %v, want %v", got, want)
	}

	// Idempotent: filtering an already filtered payload changes nothing
	// for visible fields and re-masks masked ones to the same width.
	again := p.Apply(got)
	if again["degree"] != want["degree"] {
		t.Fatalf("Apply not stable for visible fields: %q", again["degree"])
	}
}

func TestApplyUnknownFieldFallsBackToPreset(t *testing.T) {
	// A field added to the credential after issuance is absent from the
	// policy map; the preset default decides.
	payload := map[string]string{"new_field": "value", "new_degree": "MSc"}

	full := DisclosurePolicy{Preset: PresetFull}
	if got := full.Apply(payload); len(got) != 2 {
		t.Fatalf("full preset fallback should disclose, got %v", got)
	}

	custom := DisclosurePolicy{Preset: PresetCustom}
	if got := custom.Apply(payload); len(got) != 0 {
		t.Fatalf("custom preset fallback should hide, got %v", got)
	}

	lite := DisclosurePolicy{Preset: PresetLite}
	got := lite.Apply(payload)
	if _, ok := got["new_degree"]; !ok {
		t.Fatalf("lite preset fallback should show essential fields, got %v", got)
	}
	if _, ok := got["new_field"]; ok {
		t.Fatalf("lite preset fallback should hide non-essential fields, got %v", got)
	}
}
