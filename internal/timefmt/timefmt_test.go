package timefmt

import "testing"

func TestFormat(t *testing.T) {
	cases := []struct {
		seconds int64
		want    string
	}{
		{0, "00:00:00"},
		{1, "00:00:01"},
		{59, "00:00:59"},
		{60, "00:01:00"},
		{500, "00:08:20"},
		{600, "00:10:00"},
		{3599, "00:59:59"},
		{3600, "01:00:00"},
		{86400, "24:00:00"},
		{359999, "99:59:59"},
		{360000, "100:00:00"},
	}

	for _, tc := range cases {
		if got := Format(tc.seconds); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	// Sweep the HH:MM:SS range plus values past 99 hours.
	for _, s := range []int64{0, 1, 59, 60, 61, 3599, 3600, 3661, 86399, 86400, 359999, 360000, 999999} {
		formatted := Format(s)
		parsed, err := Parse(formatted)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", formatted, err)
		}
		if parsed != s {
			t.Errorf("Parse(Format(%d)) = %d", s, parsed)
		}
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "00:00", "1:2:3", "00:60:00", "00:00:60", "aa:bb:cc", "00:-1:00", "00:00:00:00"} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}
