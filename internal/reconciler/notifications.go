package reconciler

import (
	"fmt"

	"github.com/olegeech-me/statustracker/internal/appkey"
)

// defaultLanguage is used whenever a user's stored language isn't in the catalog.
const defaultLanguage = "en"

// catalog holds one template per (language, category). Spec.md §1 places
// i18n text catalogs out of scope, so this is the smallest thing that could
// work rather than a pull-in of a generic templating engine: a plain map,
// %s formatted with the application's canonical string.
var catalog = map[string]map[Category]string{
	"en": {
		CategoryNotFound:   "%s %s: your application was not found on the portal yet.",
		CategoryInProgress: "%s %s: your application is being processed.",
		CategoryApproved:   "%s %s: your application has been approved.",
		CategoryDenied:     "%s %s: your application has been denied or stopped.",
		CategoryError:      "%s %s: the portal reported an error while checking your application.",
		CategoryUnknown:    "%s %s: your application status has been updated.",
	},
}

// composeUpdate renders the notification text for an observed status
// transition in the user's language, falling back to defaultLanguage.
func composeUpdate(language string, category Category, key appkey.Key) string {
	tmpl := templateFor(language, category)
	return fmt.Sprintf(tmpl, Sign(category), key.String())
}

// composeFailure renders the notification for a fetch-failure escalation
// (spec.md §4.3 step 6 exhausted retries, surfaced as failed=true).
func composeFailure(language string, key appkey.Key) string {
	tmpl := templateFor(language, CategoryError)
	return fmt.Sprintf(tmpl, Sign(CategoryError), key.String())
}

// composeExpiration renders the NOT_FOUND-expired notice (spec.md §4.5's
// Expiration consumer).
func composeExpiration(language string, key appkey.Key) string {
	return fmt.Sprintf("%s %s: we stopped tracking this application after it stayed unfound for too long.", Sign(CategoryNotFound), key.String())
}

func templateFor(language string, category Category) string {
	langCatalog, ok := catalog[language]
	if !ok {
		langCatalog = catalog[defaultLanguage]
	}
	tmpl, ok := langCatalog[category]
	if !ok {
		tmpl = catalog[defaultLanguage][CategoryUnknown]
	}
	return tmpl
}
