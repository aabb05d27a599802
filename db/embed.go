// Package db provides the embedded database schema used for local
// development and tests.
package db

import _ "embed"

// Schema contains the DDL statements for the order tables the janitor
// touches.
//
//go:embed migrations/001_schema.sql
var Schema string
