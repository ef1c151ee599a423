// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"fmt"
	"strings"
)

// PropertyKind is the Notion property type a field projects to.
type PropertyKind string

const (
	KindTitle    PropertyKind = "title"
	KindDate     PropertyKind = "date"
	KindNumber   PropertyKind = "number"
	KindSelect   PropertyKind = "select"
	KindRichText PropertyKind = "rich_text"
)

// FieldSpec maps one internal record field to one Notion property. The
// mapping table replaces ad-hoc label-keyed payload building: typos in
// property names fail at startup, not by silently dropping data.
type FieldSpec struct {
	Field    string       // internal field name, e.g. "weight_kg"
	Property string       // Notion property name, e.g. "Weight"
	Kind     PropertyKind // projection kind
}

// CollectionSchema describes how one collection round-trips through Notion
// page properties.
type CollectionSchema struct {
	Collection string

	// TitleField holds an explicit record name. When empty on a record, the
	// title is synthesized as "<TitleFallbackField> - <date>" (or
	// "<TitleFallbackDefault> - <date>" when the fallback field is empty too).
	TitleField           string
	TitleProperty        string
	TitleFallbackField   string
	TitleFallbackDefault string

	// DateField is required on every record; it round-trips through an ISO
	// calendar-date string, deliberately dropping time-of-day.
	DateField    string
	DateProperty string

	// RecordIDProperty is a rich_text property carrying the internal record
	// id, used for the idempotency lookup before page creation.
	RecordIDProperty string

	// Fields are the optional domain fields (number, select, rich_text).
	Fields []FieldSpec
}

// Validate checks the schema table for internal consistency. Called at
// engine startup so a bad table fails fast.
func (s *CollectionSchema) Validate() error {
	if strings.TrimSpace(s.Collection) == "" {
		return fmt.Errorf("collection schema: collection name is required")
	}
	if s.TitleField == "" || s.TitleProperty == "" {
		return fmt.Errorf("collection schema %s: title field and property are required", s.Collection)
	}
	if s.DateField == "" || s.DateProperty == "" {
		return fmt.Errorf("collection schema %s: date field and property are required", s.Collection)
	}
	if s.RecordIDProperty == "" {
		return fmt.Errorf("collection schema %s: record id property is required", s.Collection)
	}

	// The title field may legitimately double as a domain field (e.g. a
	// transaction description is both the page title and a rich_text
	// property), so it is not seeded into the duplicate check.
	seenFields := map[string]bool{s.DateField: true}
	seenProps := map[string]bool{s.TitleProperty: true, s.DateProperty: true, s.RecordIDProperty: true}
	for _, fs := range s.Fields {
		if fs.Field == "" || fs.Property == "" {
			return fmt.Errorf("collection schema %s: field spec with empty field or property", s.Collection)
		}
		switch fs.Kind {
		case KindNumber, KindSelect, KindRichText:
		case KindTitle, KindDate:
			return fmt.Errorf("collection schema %s: field %q: %s is reserved for the title/date specs", s.Collection, fs.Field, fs.Kind)
		default:
			return fmt.Errorf("collection schema %s: field %q has unknown kind %q", s.Collection, fs.Field, fs.Kind)
		}
		if seenFields[fs.Field] {
			return fmt.Errorf("collection schema %s: duplicate field %q", s.Collection, fs.Field)
		}
		if seenProps[fs.Property] {
			return fmt.Errorf("collection schema %s: duplicate property %q", s.Collection, fs.Property)
		}
		seenFields[fs.Field] = true
		seenProps[fs.Property] = true
	}
	return nil
}

// WorkoutSchema is the mapping table for the workouts collection.
func WorkoutSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection:           "workouts",
		TitleField:           "name",
		TitleProperty:        "Title",
		TitleFallbackField:   "exercise",
		TitleFallbackDefault: "Workout",
		DateField:            "date",
		DateProperty:         "Date",
		RecordIDProperty:     "Record ID",
		Fields: []FieldSpec{
			{Field: "exercise", Property: "Exercise", Kind: KindSelect},
			{Field: "category", Property: "Category", Kind: KindSelect},
			{Field: "sets", Property: "Sets", Kind: KindNumber},
			{Field: "reps", Property: "Reps", Kind: KindNumber},
			{Field: "weight_kg", Property: "Weight", Kind: KindNumber},
			{Field: "duration_min", Property: "Duration", Kind: KindNumber},
			{Field: "distance_km", Property: "Distance (km)", Kind: KindNumber},
			{Field: "notes", Property: "Notes", Kind: KindRichText},
		},
	}
}

// TransactionSchema is the mapping table for the transactions collection.
func TransactionSchema() *CollectionSchema {
	return &CollectionSchema{
		Collection:       "transactions",
		TitleField:       "description",
		TitleProperty:    "Title",
		DateField:        "date",
		DateProperty:     "Date",
		RecordIDProperty: "Record ID",
		Fields: []FieldSpec{
			{Field: "amount", Property: "Amount", Kind: KindNumber},
			{Field: "category", Property: "Category", Kind: KindSelect},
			{Field: "category_group", Property: "Type", Kind: KindSelect},
			{Field: "description", Property: "Description", Kind: KindRichText},
			{Field: "payment_method", Property: "Payment Method", Kind: KindSelect},
			{Field: "notes", Property: "Notes", Kind: KindRichText},
		},
	}
}
