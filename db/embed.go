// Package db provides the embedded orders schema.
package db

import _ "embed"

// Schema contains idempotent DDL for the orders and order_events tables.
//
//go:embed migrations/001_schema.sql
var Schema string
