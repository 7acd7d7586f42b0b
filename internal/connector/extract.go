package connector

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/venue-fusion/internal/model"
)

var (
	phoneRe = regexp.MustCompile(`(?:\+82[\s-]?|0)\d{1,2}[\s.)-]?\d{3,4}[\s.-]?\d{4}`)
	hoursRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[~\-–]\s*(\d{1,2}):(\d{2})`)
	priceRe = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d{4,7})\s*원`)
	// Road or lot address starting at a province or metropolitan city.
	addressRe = regexp.MustCompile(`(?:서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주)[^\n|,()]{4,60}?(?:로|길|동|읍|면|리)\s?\d+(?:-\d+)?`)
)

// facilityKeywords maps a facility key to lowercase text markers.
var facilityKeywords = map[string][]string{
	model.FieldIs24Hours:           {"24시간", "24시", "24h", "24/7", "연중무휴 24"},
	model.FieldHasParking:          {"주차", "parking"},
	model.FieldHasShower:           {"샤워", "shower"},
	model.FieldHasPersonalTraining: {"pt", "퍼스널", "personal training", "1:1"},
	model.FieldHasGroupExercise:    {"gx", "그룹운동", "요가", "스피닝", "필라테스", "group exercise"},
	model.FieldHasGroupPT:          {"그룹pt", "그룹 pt", "소그룹", "group pt"},
}

// InferFacilities sets facility flags to true for every marker found in
// text. Flags with no marker are left untouched.
func InferFacilities(text string, v *model.Venue) {
	lower := strings.ToLower(text)
	for _, f := range model.Facilities {
		for _, kw := range facilityKeywords[f.Key] {
			if containsWord(lower, kw) {
				f.Set(v, model.Bool(true))
				break
			}
		}
	}
}

// containsWord matches short ascii markers such as "pt" only as whole words.
func containsWord(s, kw string) bool {
	if len(kw) > 3 || !isASCII(kw) {
		return strings.Contains(s, kw)
	}
	idx := 0
	for {
		i := strings.Index(s[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		if (start == 0 || !isASCIIAlnum(s[start-1])) && (end == len(s) || !isASCIIAlnum(s[end])) {
			return true
		}
		idx = start + 1
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isASCIIAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// ExtractPhone returns the first phone-number-like token in text.
func ExtractPhone(text string) string {
	return strings.TrimSpace(phoneRe.FindString(text))
}

// ExtractHours returns the first "HH:MM ~ HH:MM" range in text.
func ExtractHours(text string) (open, close string, ok bool) {
	m := hoursRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return pad2(m[1]) + ":" + m[2], pad2(m[3]) + ":" + m[4], true
}

// ExtractPrice returns the first won amount in text, digits only.
func ExtractPrice(text string) string {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], ",", "")
}

// ExtractAddress returns the first Korean street or lot address in text.
func ExtractAddress(text string) string {
	return strings.TrimSpace(addressRe.FindString(text))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// parseCoord parses a decimal coordinate string. Empty input yields 0 and
// malformed input yields NaN so the normalizer can reject it.
func parseCoord(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
