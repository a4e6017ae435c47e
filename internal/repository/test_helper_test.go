package repository

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated in-memory sqlite database. The pool is pinned
// to one connection since every sqlite :memory: connection is its own
// database.
func NewTestDB(t testing.TB) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))
	return pg.New(db, db)
}

// NewTestRedis starts a miniredis server and an adapter registered under a
// name unique to the test.
func NewTestRedis(t testing.TB) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}
