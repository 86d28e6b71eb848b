// Package dupe holds the data model shared by the duplicate detector:
// file records and their validity keys, fingerprints, canonical pair keys
// and the comparison results the escalation matcher produces.
package dupe
