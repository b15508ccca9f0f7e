package postgres

import _ "embed"

//go:embed schema.sql
var schemaDDL string

// SchemaDDL is the envelopes table DDL, applied idempotently at
// cmd/relay startup (its ensureSchema) and by cmd/migrate.
var SchemaDDL = schemaDDL
