package mesh

import "fmt"

// assertf panics on an internal invariant violation — the Go analogue of
// tinc's abort()-on-"impossible"-state style (spec §7 "Signal-driven" /
// §9 DESIGN NOTES "Exceptions for control flow"). It must never be
// reachable from untrusted network input; protocol-level errors are
// always returned as error values instead (see package meta).
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("mesh: invariant violation: " + fmt.Sprintf(format, args...))
	}
}
