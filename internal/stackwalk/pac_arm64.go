//go:build darwin && arm64

package stackwalk

// stripPAC strips the pointer-authentication code bits from an
// instruction pointer or return address captured from arm64 state. See
// pac_arm64.s for the single XPACI instruction that does the work.
func stripPAC(ptr uint64) uint64
