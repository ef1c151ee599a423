// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinSchemasValidate(t *testing.T) {
	require.NoError(t, WorkoutSchema().Validate())
	require.NoError(t, TransactionSchema().Validate())
}

func TestSchemaValidate_Errors(t *testing.T) {
	valid := func() *CollectionSchema {
		return &CollectionSchema{
			Collection:       "things",
			TitleField:       "name",
			TitleProperty:    "Title",
			DateField:        "date",
			DateProperty:     "Date",
			RecordIDProperty: "Record ID",
			Fields: []FieldSpec{
				{Field: "amount", Property: "Amount", Kind: KindNumber},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*CollectionSchema)
	}{
		{"empty collection", func(s *CollectionSchema) { s.Collection = " " }},
		{"missing title property", func(s *CollectionSchema) { s.TitleProperty = "" }},
		{"missing date field", func(s *CollectionSchema) { s.DateField = "" }},
		{"missing record id property", func(s *CollectionSchema) { s.RecordIDProperty = "" }},
		{"empty field spec", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "", Property: "X", Kind: KindNumber})
		}},
		{"unknown kind", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "x", Property: "X", Kind: "checkbox"})
		}},
		{"title kind reserved", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "x", Property: "X", Kind: KindTitle})
		}},
		{"duplicate field", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "amount", Property: "Amount 2", Kind: KindNumber})
		}},
		{"field colliding with date field", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "date", Property: "Date 2", Kind: KindRichText})
		}},
		{"duplicate property", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "other", Property: "Amount", Kind: KindNumber})
		}},
		{"property colliding with record id", func(s *CollectionSchema) {
			s.Fields = append(s.Fields, FieldSpec{Field: "other", Property: "Record ID", Kind: KindRichText})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			require.Error(t, s.Validate())
		})
	}
}

func TestSchemaValidate_TitleFieldMayDoubleAsDomainField(t *testing.T) {
	// The transactions layout: description is the title source and also a
	// rich_text property of its own.
	s := &CollectionSchema{
		Collection:       "things",
		TitleField:       "description",
		TitleProperty:    "Title",
		DateField:        "date",
		DateProperty:     "Date",
		RecordIDProperty: "Record ID",
		Fields: []FieldSpec{
			{Field: "description", Property: "Description", Kind: KindRichText},
		},
	}
	require.NoError(t, s.Validate())
}
