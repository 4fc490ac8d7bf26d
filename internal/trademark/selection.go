package trademark

import "strings"

// ClassSelection is the goods/services chosen for one class.
type ClassSelection struct {
	ClassCode string   `json:"classCode"`
	Details   []string `json:"details"`
}

// SanitizeDetails drops blank entries and trims the rest.
func SanitizeDetails(details []string) []string {
	out := make([]string, 0, len(details))
	for _, d := range details {
		if trimmed := strings.TrimSpace(d); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// UpsertSelection replaces the selection for classCode, or appends one.
func UpsertSelection(selections []ClassSelection, classCode string, details []string) []ClassSelection {
	out := make([]ClassSelection, len(selections), len(selections)+1)
	copy(out, selections)
	for i := range out {
		if out[i].ClassCode == classCode {
			out[i] = ClassSelection{ClassCode: classCode, Details: details}
			return out
		}
	}
	return append(out, ClassSelection{ClassCode: classCode, Details: details})
}

// SanitizeSelections canonicalises class codes, sanitizes details and
// collapses repeated classes (the later entry wins). Codes that are not Nice
// classes are returned separately.
func SanitizeSelections(selections []ClassSelection) (clean []ClassSelection, invalid []string) {
	clean = []ClassSelection{}
	for _, s := range selections {
		class, ok := LookupClass(s.ClassCode)
		if !ok {
			invalid = append(invalid, s.ClassCode)
			continue
		}
		clean = UpsertSelection(clean, class.Code, SanitizeDetails(s.Details))
	}
	return clean, invalid
}
