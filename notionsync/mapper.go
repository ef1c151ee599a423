// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// isoDate is the calendar-date layout domain dates round-trip through.
// Time-of-day carried by internal timestamps is dropped in this projection.
const isoDate = "2006-01-02"

// Mapper translates between internal records and Notion page properties in
// both directions. Pure, no I/O; projections are best-effort and only fail
// when a required field (title, date) is absent.
type Mapper struct {
	schema *CollectionSchema
}

func NewMapper(schema *CollectionSchema) *Mapper {
	return &Mapper{schema: schema}
}

// ToProperties projects a record onto Notion page properties. Optional
// fields without a value are omitted from the property set entirely.
func (m *Mapper) ToProperties(rec *Record) (map[string]PropertyValue, error) {
	s := m.schema

	dateStr, err := m.dateString(rec.Fields[s.DateField])
	if err != nil {
		return nil, &SchemaError{Collection: s.Collection, Field: s.DateField, Reason: err.Error()}
	}

	title := stringField(rec.Fields[s.TitleField])
	if title == "" && s.TitleFallbackField != "" {
		base := stringField(rec.Fields[s.TitleFallbackField])
		if base == "" {
			base = s.TitleFallbackDefault
		}
		if base != "" {
			title = base + " - " + dateStr
		}
	}
	if title == "" {
		return nil, &SchemaError{Collection: s.Collection, Field: s.TitleField, Reason: "is required for the page title"}
	}

	props := map[string]PropertyValue{
		s.TitleProperty:    titleValue(title),
		s.DateProperty:     {Date: &DateValue{Start: dateStr}},
		s.RecordIDProperty: richTextValue(rec.ID.String()),
	}

	for _, fs := range s.Fields {
		value, ok := rec.Fields[fs.Field]
		if !ok || value == nil {
			continue
		}
		switch fs.Kind {
		case KindNumber:
			n, ok := numberField(value)
			if !ok {
				continue
			}
			props[fs.Property] = PropertyValue{Number: &n}
		case KindSelect:
			str := stringField(value)
			if str == "" {
				continue
			}
			props[fs.Property] = PropertyValue{Select: &SelectOption{Name: str}}
		case KindRichText:
			str := stringField(value)
			if str == "" {
				continue
			}
			props[fs.Property] = richTextValue(str)
		}
	}

	return props, nil
}

// FieldsFromPage projects a Notion page back onto internal record fields.
// Schema fields missing from the page map to explicit nils so a cleared
// Notion property clears the internal field too.
func (m *Mapper) FieldsFromPage(page *Page) (map[string]any, error) {
	s := m.schema
	fields := make(map[string]any, len(s.Fields)+2)

	if prop, ok := page.Properties[s.DateProperty]; ok && prop.Date != nil && prop.Date.Start != "" {
		fields[s.DateField] = prop.Date.Start
	} else {
		return nil, &SchemaError{Collection: s.Collection, Field: s.DateField, Reason: "missing on notion page " + page.ID}
	}

	title := ""
	if prop, ok := page.Properties[s.TitleProperty]; ok {
		title = prop.PlainText()
	}
	if title == "" {
		return nil, &SchemaError{Collection: s.Collection, Field: s.TitleField, Reason: "missing on notion page " + page.ID}
	}
	fields[s.TitleField] = title

	for _, fs := range s.Fields {
		if fs.Field == s.TitleField {
			continue
		}
		prop, ok := page.Properties[fs.Property]
		if !ok {
			fields[fs.Field] = nil
			continue
		}
		switch fs.Kind {
		case KindNumber:
			if prop.Number != nil {
				fields[fs.Field] = *prop.Number
			} else {
				fields[fs.Field] = nil
			}
		case KindSelect:
			if prop.Select != nil && prop.Select.Name != "" {
				fields[fs.Field] = prop.Select.Name
			} else {
				fields[fs.Field] = nil
			}
		case KindRichText:
			if text := prop.PlainText(); text != "" {
				fields[fs.Field] = text
			} else {
				fields[fs.Field] = nil
			}
		}
	}

	return fields, nil
}

// dateString normalizes the internal date representation (time.Time or a
// string in either calendar-date or RFC 3339 form) to the ISO calendar date.
func (m *Mapper) dateString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("is required")
	case time.Time:
		return v.UTC().Format(isoDate), nil
	case *time.Time:
		if v == nil {
			return "", fmt.Errorf("is required")
		}
		return v.UTC().Format(isoDate), nil
	case string:
		if v == "" {
			return "", fmt.Errorf("is required")
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC().Format(isoDate), nil
		}
		if _, err := time.Parse(isoDate, v); err == nil {
			return v, nil
		}
		return "", fmt.Errorf("has unrecognized date format %q", v)
	default:
		return "", fmt.Errorf("has unsupported date type %T", value)
	}
}

func titleValue(text string) PropertyValue {
	return PropertyValue{Title: []RichTextSpan{{Type: "text", Text: &TextContent{Content: text}}}}
}

func richTextValue(text string) PropertyValue {
	return PropertyValue{RichText: []RichTextSpan{{Type: "text", Text: &TextContent{Content: text}}}}
}

func stringField(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func numberField(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
