package wallet

import "testing"

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		field     string
		category  FieldCategory
		sensitive bool
	}{
		{"student_name", "personal", false},
		{"Email", "personal", true},
		{"phone_number", "personal", true},
		{"dob", "personal", true},
		{"degree", "academic", false},
		{"final_grade", "academic", false},
		{"gpa", "academic", false},
		{"university", "institutional", false},
		{"issuer_code", "institutional", false},
		{"registration_number", "metadata", true},
		{"serial", "metadata", false},
	}
	for _, tc := range cases {
		info := Classify(tc.field)
		if info.Category != tc.category {
			t.Errorf("Classify(%q).Category = %q, want %q", tc.field, info.Category, tc.category)
		}
		if info.Sensitive != tc.sensitive {
			t.Errorf("Classify(%q).Sensitive = %v, want %v", tc.field, info.Sensitive, tc.sensitive)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// A name matching both a personal and an academic keyword resolves to
	// the personal category.
	info := Classify("student_name_and_degree")
	if info.Category != "personal" {
		t.Fatalf("expected personal to win, got %q", info.Category)
	}
}

func TestEssentialFields(t *testing.T) {
	essential := []string{"degree", "university_name", "student_name", "graduation_year"}
	for _, f := range essential {
		if !isEssentialField(f) {
			t.Errorf("expected %q to be essential", f)
		}
	}
	notEssential := []string{"email", "phone", "registration_number"}
	for _, f := range notEssential {
		if isEssentialField(f) {
			t.Errorf("expected %q to not be essential", f)
		}
	}
}
