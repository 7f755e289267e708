// Package preamble resolves which math preamble applies to a document and
// keeps its index consistent with the vault as files and folders change.
//
// The index has two parts: a content Store keyed by preamble path and a
// folder Bindings table mapping folders to preamble paths. An Engine owns
// both, answers resolution queries, and applies change events.
package preamble
