// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain types so the domain layer stays free of
// ORM concerns; repositories convert between the two.
//
// Structure:
// - lead.go: leads and their owners
// - dispatch.go: credential sets, dispatch batches and units
// - json.go: JSONB column types
package models
