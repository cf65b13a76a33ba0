package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agenthands/driftwatch/internal/core/model"
)

const timeLayout = "2006-01-02 15:04 MST"

var titleCaser = cases.Title(language.English, cases.NoLower)

// HumanizeKey turns snake_case, kebab-case and camelCase keys into title case
// words: "launch_date" and "launchDate" both become "Launch Date".
func HumanizeKey(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(strings.TrimSpace(key))
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return titleCaser.String(strings.Join(words, " "))
}

// PropertyValue renders one value by its kind.
func (n *Normalizer) PropertyValue(v model.PropertyValue) string {
	switch v.Kind {
	case model.KindText, model.KindSelect, model.KindStatus, model.KindURL, model.KindEmail, model.KindPhone:
		return oneLine(v.Text)
	case model.KindNumber:
		if v.Number == nil {
			return ""
		}
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case model.KindCheckbox:
		if v.Bool == nil {
			return ""
		}
		if *v.Bool {
			return "Yes"
		}
		return "No"
	case model.KindMultiSelect, model.KindFiles:
		return strings.Join(v.Names, ", ")
	case model.KindDate:
		start := n.dateValue(v.DateStart)
		if v.DateEnd == "" {
			return start
		}
		return start + " to " + n.dateValue(v.DateEnd)
	case model.KindTimestamp:
		if v.Time.IsZero() {
			return ""
		}
		return v.Time.In(n.Location).Format(timeLayout)
	case model.KindPeople:
		names := make([]string, 0, len(v.People))
		for _, p := range v.People {
			switch {
			case p.Name != "":
				names = append(names, p.Name)
			case p.Email != "":
				names = append(names, p.Email)
			default:
				names = append(names, p.ID)
			}
		}
		return strings.Join(names, ", ")
	case model.KindRelation:
		return fmt.Sprintf("%d linked", v.Count)
	case model.KindRollupCount:
		return fmt.Sprintf("%d items", v.Count)
	case model.KindOpaque:
		return "(" + v.RawType + ")"
	default:
		return ""
	}
}

// dateValue keeps date-only values as given and converts date-times to the
// configured zone.
func (n *Normalizer) dateValue(s string) string {
	if len(s) <= len("2006-01-02") {
		return s
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.In(n.Location).Format(timeLayout)
}
