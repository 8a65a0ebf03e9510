// Package log provides structured logging built on zerolog.
//
// Every subsystem gets its own logger via WithComponent, which attaches
// a "component" field so log lines can be filtered by subsystem (host,
// router, supervisor, control, ...) without grepping message text. Call
// Init once at process startup with the level and output format an
// operator chose; WithComponent can be called before or after Init since
// it reads the global logger lazily.
//
// Avoid logging claims, registry credentials, or signed JWTs at any
// level; use .Str("component_id", id) and similar typed fields instead
// of building messages by concatenation.
package log
