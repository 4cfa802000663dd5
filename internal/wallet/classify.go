package wallet

import "strings"

// FieldCategory groups payload fields for UI grouping and the lite preset
// defaults. Classification is advisory, never a security boundary.
type FieldCategory string

const (
	CategoryPersonal      FieldCategory = "personal"
	CategoryAcademic      FieldCategory = "academic"
	CategoryInstitutional FieldCategory = "institutional"
	CategoryMetadata      FieldCategory = "metadata"
)

// Keyword tables for name-based classification. Order matters: personal wins
// over academic wins over institutional; anything unmatched is metadata.
var (
	personalKeywords = []string{"name", "student_name", "email", "phone", "address", "dob", "gender"}

	academicKeywords = []string{"degree", "grade", "gpa", "marks", "course", "major", "specialization", "year"}

	institutionalKeywords = []string{"institution", "university", "college", "school", "issuer"}

	sensitiveKeywords = []string{"email", "phone", "address", "dob", "registration_number", "student_id"}

	// essentialKeywords drives the lite preset: matching fields default to
	// visible, everything else to hidden.
	essentialKeywords = []string{"degree", "institution", "university", "year", "grade", "title", "name", "student_name"}
)

// FieldInfo is the classifier verdict for one payload field.
type FieldInfo struct {
	Category  FieldCategory `json:"category"`
	Sensitive bool          `json:"sensitive"`
}

// Classify assigns a category and sensitivity flag to a field name using
// substring matching against the keyword tables. Pure and total: unknown
// names land in metadata, sensitivity defaults to false.
func Classify(fieldName string) FieldInfo {
	lower := strings.ToLower(fieldName)
	return FieldInfo{
		Category:  categorize(lower),
		Sensitive: matchesAny(lower, sensitiveKeywords),
	}
}

func categorize(lower string) FieldCategory {
	switch {
	case matchesAny(lower, personalKeywords):
		return CategoryPersonal
	case matchesAny(lower, academicKeywords):
		return CategoryAcademic
	case matchesAny(lower, institutionalKeywords):
		return CategoryInstitutional
	default:
		return CategoryMetadata
	}
}

func isEssentialField(fieldName string) bool {
	return matchesAny(strings.ToLower(fieldName), essentialKeywords)
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
