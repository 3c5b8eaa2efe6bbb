/*
	Package cellgraph provides types, constants and functions that have no other
	dependencies and can be used by all packages within the cellgraph system.
*/
package cellgraph

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)
