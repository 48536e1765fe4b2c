/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timefmt converts elapsed-second counts to and from the HH:MM:SS
// display form used throughout the session ledger.
package timefmt

import (
	"fmt"
	"strconv"
	"strings"
)

// Zero is the display form of an empty duration.
const Zero = "00:00:00"

// Format renders a non-negative second count as HH:MM:SS. Hours grow past 24
// without day rollover. Passing a negative count is a caller bug; elapsed
// times are validated against inverted join/leave ordering before they
// reach the formatter.
func Format(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// Parse is the exact inverse of Format for every value Format can produce.
func Parse(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed duration %q: want HH:MM:SS", s)
	}

	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("malformed hours in %q", s)
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("malformed minutes in %q", s)
	}
	secs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || secs < 0 || secs > 59 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("malformed seconds in %q", s)
	}

	return hours*3600 + minutes*60 + secs, nil
}
