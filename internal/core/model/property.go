package model

import "time"

// PropertyKind tags the variant held by a PropertyValue.
type PropertyKind string

const (
	KindText        PropertyKind = "text"
	KindNumber      PropertyKind = "number"
	KindDate        PropertyKind = "date"
	KindSelect      PropertyKind = "select"
	KindMultiSelect PropertyKind = "multi_select"
	KindStatus      PropertyKind = "status"
	KindPeople      PropertyKind = "people"
	KindCheckbox    PropertyKind = "checkbox"
	KindURL         PropertyKind = "url"
	KindEmail       PropertyKind = "email"
	KindPhone       PropertyKind = "phone"
	KindFiles       PropertyKind = "files"
	KindRelation    PropertyKind = "relation"
	KindRollupCount PropertyKind = "rollup_count"
	KindTimestamp   PropertyKind = "timestamp"
	KindOpaque      PropertyKind = "opaque"
)

// Property is one named page property.
type Property struct {
	Key   string
	Value PropertyValue
}

// Person is a document-system user referenced by a people property.
type Person struct {
	ID    string
	Name  string
	Email string
}

// PropertyValue is a tagged variant; only the fields of its Kind are set.
type PropertyValue struct {
	Kind PropertyKind

	Text      string    // text, select, status, url, email, phone
	Number    *float64  // number
	Bool      *bool     // checkbox
	Names     []string  // multi_select, files
	DateStart string    // date
	DateEnd   string    // date
	Time      time.Time // timestamp
	People    []Person  // people
	Count     int       // relation, rollup_count
	RawType   string    // opaque: the unrecognised provider type
}

// IsEmpty reports whether the value carries nothing worth rendering.
func (v PropertyValue) IsEmpty() bool {
	switch v.Kind {
	case KindText, KindSelect, KindStatus, KindURL, KindEmail, KindPhone:
		return v.Text == ""
	case KindNumber:
		return v.Number == nil
	case KindCheckbox:
		return v.Bool == nil
	case KindMultiSelect, KindFiles:
		return len(v.Names) == 0
	case KindDate:
		return v.DateStart == ""
	case KindTimestamp:
		return v.Time.IsZero()
	case KindPeople:
		return len(v.People) == 0
	case KindRelation, KindRollupCount:
		return v.Count == 0
	case KindOpaque:
		return v.RawType == ""
	default:
		return true
	}
}
