package notion

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// Wire types for the subset of the Notion API this service reads.

type RichText struct {
	PlainText string `json:"plain_text"`
}

func plain(rt []RichText) string {
	var b strings.Builder
	for _, t := range rt {
		b.WriteString(t.PlainText)
	}
	return b.String()
}

type User struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Person *struct {
		Email string `json:"email"`
	} `json:"person,omitempty"`
}

func (u User) Email() string {
	if u.Person == nil {
		return ""
	}
	return u.Person.Email
}

func (u User) toPerson() model.Person {
	return model.Person{ID: u.ID, Name: u.Name, Email: u.Email()}
}

type UserList struct {
	Results    []User `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type namedOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type fileRef struct {
	Name string `json:"name"`
}

type formulaValue struct {
	Type    string     `json:"type"`
	String  *string    `json:"string"`
	Number  *float64   `json:"number"`
	Boolean *bool      `json:"boolean"`
	Date    *dateValue `json:"date"`
}

type rollupValue struct {
	Type   string            `json:"type"`
	Number *float64          `json:"number"`
	Date   *dateValue        `json:"date"`
	Array  []json.RawMessage `json:"array"`
}

// PropertyValue is a page property as returned by the API. Only the field
// named by Type is populated.
type PropertyValue struct {
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	Title          []RichText    `json:"title"`
	RichText       []RichText    `json:"rich_text"`
	Number         *float64      `json:"number"`
	Select         *namedOption  `json:"select"`
	MultiSelect    []namedOption `json:"multi_select"`
	Status         *namedOption  `json:"status"`
	Date           *dateValue    `json:"date"`
	People         []User        `json:"people"`
	Checkbox       *bool         `json:"checkbox"`
	URL            *string       `json:"url"`
	Email          *string       `json:"email"`
	PhoneNumber    *string       `json:"phone_number"`
	Files          []fileRef     `json:"files"`
	Relation       []struct{}    `json:"relation"`
	Formula        *formulaValue `json:"formula"`
	Rollup         *rollupValue  `json:"rollup"`
	CreatedTime    string        `json:"created_time"`
	LastEditedTime string        `json:"last_edited_time"`
	CreatedBy      *User         `json:"created_by"`
	LastEditedBy   *User         `json:"last_edited_by"`
}

type Page struct {
	ID         string                   `json:"id"`
	URL        string                   `json:"url"`
	Properties map[string]PropertyValue `json:"properties"`
}

type blockPayload struct {
	RichText []RichText   `json:"rich_text"`
	Checked  *bool        `json:"checked"`
	Language string       `json:"language"`
	Title    string       `json:"title"`
	Cells    [][]RichText `json:"cells"`
}

// Block is one block object. The type-specific payload lives under a key
// named after the type; UnmarshalJSON lifts it into Payload.
type Block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
	Payload     blockPayload
}

func (b *Block) UnmarshalJSON(data []byte) error {
	type header Block
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	*b = Block(h)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if payload, ok := raw[b.Type]; ok && len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal(payload, &b.Payload); err != nil {
			return err
		}
	}
	return nil
}

type BlockList struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// toContentBlock converts a wire block without its children.
func toContentBlock(b Block) *model.ContentBlock {
	cb := &model.ContentBlock{
		ID:   b.ID,
		Type: model.BlockType(b.Type),
		Text: plain(b.Payload.RichText),
	}
	switch cb.Type {
	case model.BlockToDo:
		cb.Checked = b.Payload.Checked
	case model.BlockCode:
		cb.Language = b.Payload.Language
	case model.BlockChildPage:
		cb.Text = b.Payload.Title
	case model.BlockTableRow:
		for _, cell := range b.Payload.Cells {
			cb.Cells = append(cb.Cells, plain(cell))
		}
	}
	return cb
}

// pageTitle returns the text of the page's title property.
func pageTitle(p *Page) string {
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return plain(prop.Title)
		}
	}
	return ""
}

// decodeProperties converts every non-title property.
func decodeProperties(p *Page) []model.Property {
	props := make([]model.Property, 0, len(p.Properties))
	for key, raw := range p.Properties {
		if raw.Type == "title" {
			continue
		}
		props = append(props, model.Property{Key: key, Value: decodeProperty(raw)})
	}
	return props
}

func decodeProperty(p PropertyValue) model.PropertyValue {
	switch p.Type {
	case "rich_text":
		return model.PropertyValue{Kind: model.KindText, Text: plain(p.RichText)}
	case "number":
		return model.PropertyValue{Kind: model.KindNumber, Number: p.Number}
	case "select":
		return model.PropertyValue{Kind: model.KindSelect, Text: optionName(p.Select)}
	case "status":
		return model.PropertyValue{Kind: model.KindStatus, Text: optionName(p.Status)}
	case "multi_select":
		v := model.PropertyValue{Kind: model.KindMultiSelect}
		for _, o := range p.MultiSelect {
			v.Names = append(v.Names, o.Name)
		}
		return v
	case "date":
		return dateProperty(p.Date)
	case "people":
		v := model.PropertyValue{Kind: model.KindPeople}
		for _, u := range p.People {
			v.People = append(v.People, u.toPerson())
		}
		return v
	case "checkbox":
		return model.PropertyValue{Kind: model.KindCheckbox, Bool: p.Checkbox}
	case "url":
		return model.PropertyValue{Kind: model.KindURL, Text: deref(p.URL)}
	case "email":
		return model.PropertyValue{Kind: model.KindEmail, Text: deref(p.Email)}
	case "phone_number":
		return model.PropertyValue{Kind: model.KindPhone, Text: deref(p.PhoneNumber)}
	case "files":
		v := model.PropertyValue{Kind: model.KindFiles}
		for _, f := range p.Files {
			v.Names = append(v.Names, f.Name)
		}
		return v
	case "relation":
		return model.PropertyValue{Kind: model.KindRelation, Count: len(p.Relation)}
	case "formula":
		return formulaProperty(p.Formula)
	case "rollup":
		return rollupProperty(p.Rollup)
	case "created_time":
		return timestampProperty(p.CreatedTime)
	case "last_edited_time":
		return timestampProperty(p.LastEditedTime)
	case "created_by":
		return userProperty(p.CreatedBy)
	case "last_edited_by":
		return userProperty(p.LastEditedBy)
	default:
		return model.PropertyValue{Kind: model.KindOpaque, RawType: p.Type}
	}
}

func optionName(o *namedOption) string {
	if o == nil {
		return ""
	}
	return o.Name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateProperty(d *dateValue) model.PropertyValue {
	v := model.PropertyValue{Kind: model.KindDate}
	if d != nil {
		v.DateStart, v.DateEnd = d.Start, d.End
	}
	return v
}

func timestampProperty(s string) model.PropertyValue {
	v := model.PropertyValue{Kind: model.KindTimestamp}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		v.Time = t
	}
	return v
}

func userProperty(u *User) model.PropertyValue {
	v := model.PropertyValue{Kind: model.KindPeople}
	if u != nil {
		v.People = []model.Person{u.toPerson()}
	}
	return v
}

func formulaProperty(f *formulaValue) model.PropertyValue {
	if f == nil {
		return model.PropertyValue{Kind: model.KindText}
	}
	switch f.Type {
	case "string":
		return model.PropertyValue{Kind: model.KindText, Text: deref(f.String)}
	case "number":
		return model.PropertyValue{Kind: model.KindNumber, Number: f.Number}
	case "boolean":
		return model.PropertyValue{Kind: model.KindCheckbox, Bool: f.Boolean}
	case "date":
		return dateProperty(f.Date)
	default:
		return model.PropertyValue{Kind: model.KindOpaque, RawType: "formula:" + f.Type}
	}
}

func rollupProperty(r *rollupValue) model.PropertyValue {
	if r == nil {
		return model.PropertyValue{Kind: model.KindRollupCount}
	}
	switch r.Type {
	case "number":
		return model.PropertyValue{Kind: model.KindNumber, Number: r.Number}
	case "date":
		return dateProperty(r.Date)
	case "array":
		return model.PropertyValue{Kind: model.KindRollupCount, Count: len(r.Array)}
	default:
		return model.PropertyValue{Kind: model.KindOpaque, RawType: "rollup:" + r.Type}
	}
}
