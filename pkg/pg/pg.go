package pg

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// statements slower than this are logged at warn
const slowQuery = 200 * time.Millisecond

type txContextKey string

const txKey txContextKey = "trx"

type DB struct {
	read  *gorm.DB
	write *gorm.DB
}

// New wraps already opened handles. Passing the same handle twice is fine.
func New(read, write *gorm.DB) *DB {
	return &DB{read: read, write: write}
}

func gormConfig(withDebug bool) *gorm.Config {
	c := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	}
	level := gormlogger.Warn
	if withDebug {
		level = gormlogger.Info
	}
	c.Logger = gormlogger.New(logger.GetLogger(), gormlogger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      !withDebug,
	})
	return c
}

// Open opens a gorm handle on an arbitrary dialector using the shared naming rules.
func Open(dialector gorm.Dialector, withDebug bool) (*gorm.DB, error) {
	return gorm.Open(dialector, gormConfig(withDebug))
}

func Create(config Config, withDebug bool) (*gorm.DB, error) {
	db, err := Open(postgres.Open(config.DSN()), withDebug)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	return db, nil
}

func CreateReadWrite(readConfig Config, writeConfig Config, withDebug bool) (*DB, error) {
	write, err := Create(writeConfig, withDebug)
	if err != nil {
		return nil, errors.Wrap(err, "open write db")
	}
	if readConfig.Host == "" {
		return &DB{read: write, write: write}, nil
	}
	read, err := Create(readConfig, withDebug)
	if err != nil {
		return nil, errors.Wrap(err, "open read db")
	}
	return &DB{read, write}, nil
}

// WithinTransaction runs fn inside a transaction carried by ctx. A nested call
// joins the outer transaction instead of opening a new one.
func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.write.WithContext(ctx)

	return tx
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.read.WithContext(ctx)

	return tx
}

func (r *DB) Ping(ctx context.Context) error {
	sqlDB, err := r.write.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *DB) Close() error {
	for _, db := range []*gorm.DB{r.write, r.read} {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
		if r.read == r.write {
			break
		}
	}
	return nil
}
