/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

// A disabled cache must behave like a permanent miss: reads miss, writes
// and invalidations succeed without touching Redis.
func TestDisabledCacheDegradesGracefully(t *testing.T) {
	c := Disabled(zerolog.Nop())
	ctx := context.Background()

	if c.IsAvailable() {
		t.Fatal("disabled cache must not report available")
	}

	if _, ok := c.GetDuration(ctx, "u", "r"); ok {
		t.Error("expected duration miss")
	}
	if err := c.SetDuration(ctx, &CachedDuration{UserID: "u", RoomID: "r"}); err != nil {
		t.Errorf("SetDuration: %v", err)
	}
	if err := c.InvalidateUser(ctx, "u"); err != nil {
		t.Errorf("InvalidateUser: %v", err)
	}

	if _, ok := c.GetOccupancy(ctx, "r"); ok {
		t.Error("expected occupancy miss")
	}
	occ := &CachedOccupancy{
		RoomID:    "r",
		Occupants: []CachedOccupant{{UserID: "u", JoinTime: 1000}},
	}
	if err := c.SetOccupancy(ctx, occ); err != nil {
		t.Errorf("SetOccupancy: %v", err)
	}
	if err := c.InvalidateOccupancy(ctx, "r"); err != nil {
		t.Errorf("InvalidateOccupancy: %v", err)
	}

	if err := c.FlushAll(ctx); err != nil {
		t.Errorf("FlushAll: %v", err)
	}
}
