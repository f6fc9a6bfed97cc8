// Package compliance scrubs payment card numbers from patient text before it
// reaches session history or logs.
package compliance

import "strings"

const (
	minPANDigits = 13
	maxPANDigits = 19
)

// RedactPAN replaces every Luhn-valid run of 13 to 19 digits with a marker
// keeping the last four. Single spaces or dashes between digits are allowed,
// as patients type card numbers in groups. It reports whether anything was
// replaced; when nothing was, text is returned unchanged.
func RedactPAN(text string) (string, bool) {
	var (
		out     strings.Builder
		changed bool
		last    int
	)
	for i := 0; i < len(text); {
		if !isDigit(text[i]) {
			i++
			continue
		}
		end, digits := scanDigitRun(text, i)
		if len(digits) >= minPANDigits && len(digits) <= maxPANDigits && luhn(digits) {
			if !changed {
				out.Grow(len(text))
			}
			out.WriteString(text[last:i])
			out.WriteString("[REDACTED_CARD_" + digits[len(digits)-4:] + "]")
			last = end
			changed = true
		}
		i = end
	}
	if !changed {
		return text, false
	}
	out.WriteString(text[last:])
	return out.String(), true
}

// scanDigitRun returns the end of the digit run starting at start and its
// digits. A separator only joins the run when a digit follows it.
func scanDigitRun(text string, start int) (int, string) {
	var digits []byte
	i := start
	for i < len(text) {
		c := text[i]
		if isDigit(c) {
			digits = append(digits, c)
			i++
			continue
		}
		if (c == ' ' || c == '-') && i+1 < len(text) && isDigit(text[i+1]) {
			i++
			continue
		}
		break
	}
	return i, string(digits)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if double {
			if n *= 2; n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}
