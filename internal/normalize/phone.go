package normalize

import "strings"

// PhoneDigits returns the digits of s with a leading 82 country code
// rewritten to a domestic 0.
func PhoneDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if strings.HasPrefix(d, "82") && len(d) >= 10 {
		d = "0" + strings.TrimPrefix(d[2:], "0")
	}
	return d
}

// FormatPhone renders a Korean number in dashed form. ok is false when the
// digits do not form a known number shape, in which case "" is returned.
func FormatPhone(s string) (string, bool) {
	d := PhoneDigits(s)
	switch {
	case len(d) == 8 && (strings.HasPrefix(d, "15") || strings.HasPrefix(d, "16") || strings.HasPrefix(d, "18")):
		return d[:4] + "-" + d[4:], true
	case strings.HasPrefix(d, "02") && len(d) == 9:
		return d[:2] + "-" + d[2:5] + "-" + d[5:], true
	case strings.HasPrefix(d, "02") && len(d) == 10:
		return d[:2] + "-" + d[2:6] + "-" + d[6:], true
	case strings.HasPrefix(d, "0") && !strings.HasPrefix(d, "02") && len(d) == 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:], true
	case strings.HasPrefix(d, "0") && !strings.HasPrefix(d, "02") && len(d) == 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:], true
	}
	return "", false
}
