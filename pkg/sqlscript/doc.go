// Package sqlscript runs SQL scripts statement by statement.
//
// A script is split into statements by Split: comment lines starting with
// "--" or "#" are skipped, and a line ending in a single ";" terminates the
// current statement. Statements run in order on one connection; the first
// failure stops the script and is reported as a *ScriptError. Nothing is
// rolled back: statements that already ran stay applied.
package sqlscript
