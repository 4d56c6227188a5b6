package crm

import "regexp"

var (
	yearFirstDate = regexp.MustCompile(`^\d{4}-`)
	dayFirstDate  = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})\s+(\d{2}:\d{2}(?::\d{2})?)$`)
)

// NormalizeDate rewrites `DD/MM/YYYY HH:MM[:SS]` as `YYYY-MM-DDTHH:MM[:SS]`.
// Year-first values and anything it does not recognise are returned as-is.
func NormalizeDate(value string) string {
	if yearFirstDate.MatchString(value) {
		return value
	}
	m := dayFirstDate.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	return m[3] + "-" + m[2] + "-" + m[1] + "T" + m[4]
}
