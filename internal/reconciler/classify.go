package reconciler

import (
	"strings"

	"github.com/olegeech-me/statustracker/internal/model"
)

// Category is the outcome of classifying an observed status string against
// the fixed marker table. It drives both the state-machine transition and
// the notification template chosen for the user.
type Category string

const (
	CategoryNotFound   Category = "not_found"
	CategoryInProgress Category = "in_progress"
	CategoryApproved   Category = "approved"
	CategoryDenied     Category = "denied"
	CategoryError      Category = "error"
	CategoryUnknown    Category = "unknown"
)

type classifyRule struct {
	category Category
	markers  []string
	sign     string
}

// classifyTable is ordered; the first matching marker wins. Markers and
// ordering come from the portal's own status vocabulary.
var classifyTable = []classifyRule{
	{CategoryNotFound, []string{"nebylo nalezeno", "bez úvodních nul"}, "⚪️"},
	{CategoryInProgress, []string{"zpracovává se", "v-prubehu-rizeni"}, "🟡"},
	{CategoryApproved, []string{"bylo povoleno", "rizeni-povoleno"}, "🟢"},
	{CategoryDenied, []string{"bylo nepovoleno", "zamítlo", "zastavilo"}, "🔴"},
	{CategoryError, []string{"ERROR"}, "🔴"},
}

// Classify maps a raw status string onto a Category using the fixed
// substring marker table, first match wins. An unrecognized string yields
// CategoryUnknown rather than an error: the Reconciler still persists it.
func Classify(status string) Category {
	for _, rule := range classifyTable {
		for _, marker := range rule.markers {
			if strings.Contains(status, marker) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// Sign returns the visual marker associated with category, empty for unknown.
func Sign(category Category) string {
	for _, rule := range classifyTable {
		if rule.category == category {
			return rule.sign
		}
	}
	return ""
}

// State maps a classification Category onto the application_state column.
// CategoryUnknown and CategoryError both persist as StateUnknown — Open
// Question (b): the raw status text is still stored verbatim regardless.
func (c Category) State() model.ApplicationState {
	switch c {
	case CategoryNotFound:
		return model.StateNotFound
	case CategoryInProgress:
		return model.StateInProgress
	case CategoryApproved:
		return model.StateApproved
	case CategoryDenied:
		return model.StateDenied
	default:
		return model.StateUnknown
	}
}

// IsTerminal reports whether category resolves the application.
func (c Category) IsTerminal() bool {
	return c == CategoryApproved || c == CategoryDenied
}

