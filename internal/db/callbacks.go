/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/telemetry"
)

const startTimeKey = "gorm:start_time"

// RegisterCallbacks hooks query/create/update/delete so every ledger and
// registry operation reports latency and errors to prometheus.
func RegisterCallbacks(db *gorm.DB) error {
	return errors.Join(
		db.Callback().Query().Before("gorm:query").Register("telemetry:before_query", markStart),
		db.Callback().Query().After("gorm:query").Register("telemetry:after_query", observe("query")),
		db.Callback().Create().Before("gorm:create").Register("telemetry:before_create", markStart),
		db.Callback().Create().After("gorm:create").Register("telemetry:after_create", observe("create")),
		db.Callback().Update().Before("gorm:update").Register("telemetry:before_update", markStart),
		db.Callback().Update().After("gorm:update").Register("telemetry:after_update", observe("update")),
		db.Callback().Delete().Before("gorm:delete").Register("telemetry:before_delete", markStart),
		db.Callback().Delete().After("gorm:delete").Register("telemetry:after_delete", observe("delete")),
	)
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		value, exists := db.InstanceGet(startTimeKey)
		if !exists {
			return
		}
		start, ok := value.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.
			WithLabelValues(operation, table).
			Observe(time.Since(start).Seconds())

		// Not-found is a normal outcome for open-session probes, not an error.
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics publishes the pool gauge; the server calls it on
// a 30 second ticker.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
