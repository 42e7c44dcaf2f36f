// Package blueprint exports and imports group configuration as YAML.
// A blueprint carries shape, not history: settings, scopes, actors, and
// automation rules, never ledger events or private env.
package blueprint
