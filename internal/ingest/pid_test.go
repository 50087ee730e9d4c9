package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPID(t *testing.T) {
	tests := []struct {
		name string
		want int32
	}{
		{"trace.12345", 12345},
		{"zoom-trace-20251110-222110.1387679", 1387679},
		{"/var/tmp/traces/trace.42", 42},
		{"12345", 12345},
		{"notrace", UnknownPID},
		{"trace.txt", UnknownPID},
		{"trace.", UnknownPID},
		{"trace.-5", UnknownPID},
		{"trace.+5", UnknownPID},
		{"trace.12a", UnknownPID},
		{"trace.2147483647", 2147483647},
		{"trace.2147483648", UnknownPID},
		{"trace.99999999999999999999", UnknownPID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExtractPID(tt.name))
		})
	}
}
