//go:build darwin

package stackwalk

import "testing"

func TestExceptionMightBeControlTransferRelated(t *testing.T) {
	cases := []struct {
		esr  uint64
		want bool
	}{
		{esr: 0x20 << 26, want: true},  // Instruction Abort
		{esr: 0x24 << 26, want: true},  // Data Abort
		{esr: 0x15 << 26, want: false}, // SVC
	}
	for _, c := range cases {
		if got := exceptionMightBeControlTransferRelated(c.esr); got != c.want {
			t.Errorf("esr=0x%x: got %v, want %v", c.esr, got, c.want)
		}
	}
}
