package db

import "embed"

// MigrationFS holds the schema: users and logins, auth sessions, organizations
// and memberships, policies, audit logs.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
