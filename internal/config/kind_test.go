package config

import "testing"

func TestNormalizePeerKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty defaults to native", in: "", want: KindNative},
		{name: "stdio alias", in: "stdio", want: KindNative},
		{name: "sdk alias", in: "sdk", want: KindMCP},
		{name: "canonical unchanged", in: KindMCP, want: KindMCP},
		{name: "unknown unchanged", in: "grpc", want: "grpc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := NormalizePeerKind(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizePeerKind(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
