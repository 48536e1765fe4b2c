/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import "testing"

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.0.0", "1.0.0", 0},
		{"0.4.0", "0.5.0", -1},
		{"0.10.0", "0.9.9", 1},
		{"1.0", "1.0.1", -1},
	}
	for _, tc := range cases {
		if got := compareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("fixes\nmore detail", 200); got != "fixes" {
		t.Errorf("firstLine = %q", got)
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := firstLine(string(long), 200); len(got) != 200 {
		t.Errorf("truncated length = %d", len(got))
	}
}
