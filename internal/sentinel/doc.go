// Package sentinel provides an immutable error type for sentinel error declarations.
//
// Errors declared with errors.New live in variables that any importer can
// reassign. Error is a string type, so sentinels can be declared as const
// and still compare correctly with errors.Is through wrapped chains.
package sentinel
