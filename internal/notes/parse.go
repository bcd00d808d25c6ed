// Package notes resolves rate texts that point into chapter notes
// ("See additional U.S. note 20 to chapter 99") to the concrete formula
// the note encodes, caching each resolution so it happens once.
package notes

import (
	"regexp"
	"strings"

	"github.com/sells-group/tariff-engine/internal/model"
)

var (
	// "note 20", "note 20(r)", "note 4(a)(ii)"
	noteNumberRe = regexp.MustCompile(`(?i)note\s+(\d+(?:\([a-z0-9]+\))*)`)

	// "to chapter 99" overrides the chapter implied by the HTS number
	chapterRe = regexp.MustCompile(`(?i)to\s+chapter\s+(\d{1,2})`)
)

// Reference is the parsed target of a note-pointer rate text.
type Reference struct {
	Chapter    int
	NoteNumber string
}

// ParseReference extracts the note target from rate text. The chapter
// defaults to the HTS number's own chapter unless the text names another
// one explicitly, as trade-remedy pointers into chapter 99 do.
func ParseReference(rateText, htsNumber string) (Reference, bool) {
	m := noteNumberRe.FindStringSubmatch(rateText)
	if m == nil {
		return Reference{}, false
	}

	ref := Reference{
		Chapter:    model.Chapter(htsNumber),
		NoteNumber: strings.ToLower(m[1]),
	}
	if cm := chapterRe.FindStringSubmatch(rateText); cm != nil {
		ref.Chapter = atoiTwoDigit(cm[1])
	}
	if ref.Chapter == 0 {
		return Reference{}, false
	}
	return ref, true
}

func atoiTwoDigit(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
