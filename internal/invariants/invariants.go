// Package invariants gates expensive or fatal consistency checks.
// Build with -tags invariants to turn programming errors (negative lease
// counts, double reclamation) into panics.
package invariants
