package migrations

import _ "embed"

// Schema is the Postgres schema for the transfer store. Every statement is
// idempotent so it can be applied on each start.
//
//go:embed 001_init.sql
var Schema string
