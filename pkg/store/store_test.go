package store

import "testing"

func TestRouteContains(t *testing.T) {
	r := Route{Start: 0x00, End: 0x7f, URL: "dir:///tmp/lo"}

	cases := []struct {
		b    byte
		want bool
	}{
		{0x00, true},
		{0x7f, true},
		{0x40, true},
		{0x80, false},
		{0xff, false},
	}

	for _, tc := range cases {
		if got := r.Contains(tc.b); got != tc.want {
			t.Errorf("Contains(0x%02x) = %v, want %v", tc.b, got, tc.want)
		}
	}
}
