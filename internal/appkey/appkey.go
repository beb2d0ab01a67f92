// Package appkey implements the application-number grammar of the
// subscription dialog contract: parsing and canonical formatting of
// (OAM-)?\d{3,5}(-\d+)?/[A-Z]{2}-\d{4}, plus the allowed-type and
// allowed-year checks the dialog enforces before a subscription ever
// reaches the store.
package appkey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olegeech-me/statustracker/pkg/errors"
)

// pattern matches an optional "OAM-" prefix, a 3-5 digit number, an
// optional numeric suffix, and a "/TT-YYYY" type-year suffix. Matching is
// done case-insensitively by the caller normalizing input first.
var pattern = regexp.MustCompile(`^(?:OAM-)?(\d{3,5})(?:-(\d+))?/([A-Z]{2})-(\d{4})$`)

// AllowedTypes is the fixed set of application types the dialog accepts.
var AllowedTypes = map[string]struct{}{
	"CD": {}, "DO": {}, "DP": {}, "DV": {}, "MK": {},
	"PP": {}, "ST": {}, "TP": {}, "VP": {}, "ZK": {}, "ZM": {},
}

// Key identifies an application: (number, type, year) plus an optional
// numeric suffix.
type Key struct {
	Number string
	Suffix *int
	Type   string
	Year   int
}

// Parse extracts a Key from raw user input, trimming whitespace and
// upper-casing the type/prefix before matching. Returns an
// errors.CodeInvalidArgument error on any grammar, type or year violation.
func Parse(raw string) (*Key, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), "")

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("%q does not match the application-number grammar", raw), nil)
	}

	year, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, errors.InvalidArgument("invalid year", err)
	}

	key := &Key{
		Number: m[1],
		Type:   m[3],
		Year:   year,
	}
	if m[2] != "" {
		suffix, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, errors.InvalidArgument("invalid suffix", err)
		}
		key.Suffix = &suffix
	}

	if !ValidType(key.Type) {
		return nil, errors.InvalidArgument(fmt.Sprintf("application type %q is not allowed", key.Type), nil)
	}
	if !ValidYear(key.Year, time.Now()) {
		return nil, errors.InvalidArgument(fmt.Sprintf("application year %d is out of range", key.Year), nil)
	}

	return key, nil
}

// String renders the canonical "OAM-<number>(-<suffix>)?/<type>-<year>" form.
func (k *Key) String() string {
	var b strings.Builder
	b.WriteString("OAM-")
	b.WriteString(k.Number)
	if k.Suffix != nil {
		b.WriteString("-")
		b.WriteString(strconv.Itoa(*k.Suffix))
	}
	b.WriteString("/")
	b.WriteString(k.Type)
	b.WriteString("-")
	b.WriteString(strconv.Itoa(k.Year))
	return b.String()
}

// ValidType reports whether t is one of the allowed application types.
func ValidType(t string) bool {
	_, ok := AllowedTypes[strings.ToUpper(t)]
	return ok
}

// ValidYear reports whether year falls in [now.Year()-3, now.Year()].
func ValidYear(year int, now time.Time) bool {
	current := now.Year()
	return year >= current-3 && year <= current
}
