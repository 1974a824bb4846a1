// Package identifier validates financial identifiers (ISIN, LEI, CIN, SEBI
// registration numbers) by checksum or format and resolves them against registries.
package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/credible/internal/model"
)

var (
	isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
	leiPattern  = regexp.MustCompile(`^[A-Z0-9]{18}[0-9]{2}$`)
	cinPattern  = regexp.MustCompile(`^([LU])([0-9]{5})([A-Z]{2})([0-9]{4})([A-Z]{3})([0-9]{6})$`)
	sebiPattern = regexp.MustCompile(`^(IN[A-Z][0-9]{9}|INA[0-9]{6}|IA[0-9]{6})$`)
)

// Indian state and union territory codes used in CINs (old and new forms)
var cinStates = map[string]bool{
	"AN": true, "AP": true, "AR": true, "AS": true, "BR": true, "CH": true, "CT": true, "CG": true,
	"DN": true, "DD": true, "DL": true, "GA": true, "GJ": true, "HR": true, "HP": true, "JK": true,
	"JH": true, "KA": true, "KL": true, "LA": true, "LD": true, "MP": true, "MH": true, "MN": true,
	"ML": true, "MZ": true, "NL": true, "OR": true, "OD": true, "PY": true, "PB": true, "RJ": true,
	"SK": true, "TN": true, "TG": true, "TS": true, "TR": true, "UP": true, "UR": true, "UK": true,
	"WB": true,
}

// CIN ownership classes
var cinClasses = map[string]bool{
	"PLC": true, "PTC": true, "GOI": true, "SGC": true, "FLC": true, "FTC": true,
	"GAP": true, "GAT": true, "NPL": true, "ULL": true, "ULT": true, "OPC": true,
}

// Normalize uppercases and strips separators people commonly insert
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		switch r {
		case ' ', '-', '.', '\t', '\n':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Check validates raw for kind and returns its normalized value.
// Failures wrap model.ErrInvalidChecksum.
func Check(kind model.IdentifierKind, raw string) (string, error) {
	v := Normalize(raw)
	var err error
	switch kind {
	case model.KindISIN:
		err = checkISIN(v)
	case model.KindLEI:
		err = checkLEI(v)
	case model.KindCIN:
		err = checkCIN(v)
	case model.KindSEBI:
		err = checkSEBI(v)
	default:
		return v, fmt.Errorf("%w: unsupported kind %q", model.ErrInvalidChecksum, kind)
	}
	if err != nil {
		return v, fmt.Errorf("%w: %s %s: %v", model.ErrInvalidChecksum, kind, v, err)
	}
	return v, nil
}

// checkISIN applies the ISO 6166 check: letters expand to two digits, then Luhn
func checkISIN(v string) error {
	if !isinPattern.MatchString(v) {
		return fmt.Errorf("expected 2 letters, 9 alphanumerics and a check digit")
	}
	if !luhnValid(expandAlnum(v)) {
		return fmt.Errorf("check digit mismatch")
	}
	return nil
}

// checkLEI applies ISO 17442 (ISO 7064 MOD 97-10): the expanded number mod 97 must be 1
func checkLEI(v string) error {
	if !leiPattern.MatchString(v) {
		return fmt.Errorf("expected 18 alphanumerics and 2 check digits")
	}
	if mod97(expandAlnum(v)) != 1 {
		return fmt.Errorf("check digits mismatch")
	}
	return nil
}

// checkCIN validates the CIN layout; CINs carry no check digit
func checkCIN(v string) error {
	m := cinPattern.FindStringSubmatch(v)
	if m == nil {
		return fmt.Errorf("expected L/U, 5-digit industry code, state, year, class and 6-digit registration")
	}
	if !cinStates[m[3]] {
		return fmt.Errorf("unknown state code %s", m[3])
	}
	year, _ := strconv.Atoi(m[4])
	if year < 1850 || year > time.Now().Year() {
		return fmt.Errorf("implausible incorporation year %d", year)
	}
	if !cinClasses[m[5]] {
		return fmt.Errorf("unknown ownership class %s", m[5])
	}
	return nil
}

func checkSEBI(v string) error {
	if !sebiPattern.MatchString(v) {
		return fmt.Errorf("expected IN + category letter + 9 digits")
	}
	return nil
}

// expandAlnum replaces letters with their base-36 value (A=10 ... Z=35)
func expandAlnum(v string) string {
	var b strings.Builder
	b.Grow(len(v) * 2)
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteString(strconv.Itoa(int(r-'A') + 10))
		}
	}
	return b.String()
}

// luhnValid runs the Luhn check over a digit string that ends in its check digit
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// mod97 reduces an arbitrarily long digit string modulo 97
func mod97(digits string) int {
	rem := 0
	for i := 0; i < len(digits); i++ {
		rem = (rem*10 + int(digits[i]-'0')) % 97
	}
	return rem
}
