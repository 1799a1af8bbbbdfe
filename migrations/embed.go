// Package migrations embeds the schema migrations applied at server startup.
package migrations

import "embed"

// FS holds the goose SQL migrations for attendees, rulesets, and
// announcements.
//
//go:embed *.sql
var FS embed.FS
