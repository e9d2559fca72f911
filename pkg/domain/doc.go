// Package domain defines the core data model shared across the pipeline:
// sessions, workflow plans and steps, execution results and records, and
// the domain error taxonomy. Packages higher in the stack depend on domain
// and never the other way around.
package domain
