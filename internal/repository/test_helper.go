package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// AllEntities lists every table the ledger service owns, in dependency order.
func AllEntities() []interface{} {
	return []interface{}{
		&AccountEntity{},
		&TransactionEntity{},
		&NotificationEntity{},
		&RewardEntity{},
		&ActivityEntity{},
		&ActivityRuleEntity{},
		&ReferralEntity{},
	}
}

// OpenSQLite opens a migrated in-memory database. A single connection keeps
// every session on the same database and serializes transactions.
func OpenSQLite() (*pg.DB, error) {
	db, err := pg.Open(sqlite.Open(":memory:"), false)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(AllEntities()...); err != nil {
		return nil, err
	}
	return pg.New(db, db), nil
}

func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	db, err := OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &testDB{
		DB:    db,
		rawDB: db.Write(context.Background()),
	}
}
