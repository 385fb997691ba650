package telemetry

import "regexp"

// Dated snapshots of the same model aggregate under one name, so
// "claude-sonnet-4-20250514" and "claude-sonnet-4" share a leaderboard row.
var dateSuffixRE = regexp.MustCompile(`-(\d{8}|\d{4}-\d{2}-\d{2})$`)

// NormalizeModelName strips a trailing release-date suffix from a model
// identifier.
func NormalizeModelName(model string) string {
	return dateSuffixRE.ReplaceAllString(model, "")
}
