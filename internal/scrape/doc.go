// Package scrape decodes and validates the JSON documents produced by the external scrapers.
//
// The scrapers themselves are out of scope; this package is the boundary. Each reference
// entity type arrives as one JSON collection (leagues.json, clubs.json, series.json,
// teams.json, players.json) in the configured import directory. Every document is
// validated against an embedded JSON Schema before decoding, so a malformed scrape fails
// the run pre-flight, before any destructive phase touches the database.
//
// The canonical structs here are the contract between the scrapers and the bulk loader:
// they carry exactly the natural-key fields plus entity attributes, and the loader never
// sees raw scraper output.
package scrape
