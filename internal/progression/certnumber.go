package progression

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxCourseCodeLen = 8

// NewCertificateNumber formats PREFIX-YYYYMMDD-COURSECODE-XXXXXXXX. The
// random tail makes collisions rare; the store's unique index makes them safe.
func NewCertificateNumber(prefix, courseID string, issuedAt time.Time) string {
	upper := cases.Upper(language.Und)
	tail := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s-%s",
		upper.String(prefix),
		issuedAt.UTC().Format("20060102"),
		courseCode(courseID),
		upper.String(tail),
	)
}

// courseCode keeps the letters and digits of a course id, upper-cased and truncated.
func courseCode(courseID string) string {
	var b strings.Builder
	for _, r := range courseID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	code := []rune(cases.Upper(language.Und).String(b.String()))
	if len(code) == 0 {
		return "COURSE"
	}
	if len(code) > maxCourseCodeLen {
		code = code[:maxCourseCodeLen]
	}
	return string(code)
}
