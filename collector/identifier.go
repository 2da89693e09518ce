package collector

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// UnknownIdentifier is the building and apartment label value used when a
// device name does not follow the Örmező naming convention.
const UnknownIdentifier = "-"

// identifierPattern matches names such as "Örmező A12" or "Őrmező B/3".
// Group 1 is the building letter, group 2 the (possibly empty) apartment number.
// The separator may be any Unicode whitespace, such as a no-break space.
var identifierPattern = regexp.MustCompile(`^[ÖŐöő]rmező[\s\v\x{1c}-\x{1f}\x{85}\p{Z}]?(\pL)\D*(\d*)`)

// ParseIdentifier extracts the building letter and apartment number from a
// device name. Names that do not start with the town name yield
// ("-", "-"); a recognised name without digits yields the building letter and
// an empty apartment number.
func ParseIdentifier(name string) (building string, apartment string) {
	m := identifierPattern.FindStringSubmatch(norm.NFC.String(name))
	if m == nil {
		return UnknownIdentifier, UnknownIdentifier
	}
	return m[1], m[2]
}
