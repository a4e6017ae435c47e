package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/repository"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a migrated in-memory sqlite database pinned to a single
// connection, every sqlite :memory: connection being its own database.
func SetupTestDB(t testing.TB) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(repository.Entities()...))
	return pg.New(db, db)
}

// SetupTestRedis starts miniredis and registers an adapter under a name
// unique to the test, adapters being cached by name.
func SetupTestRedis(t testing.TB) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

// CreateTestApplication submits an application and walks it to status
// through the repository, the way staff would.
func CreateTestApplication(t testing.TB, apps *repository.ApplicationRepository, payload model.ApplicationPayload, status model.ApplicationStatus) *model.Application {
	t.Helper()
	ctx := context.Background()
	student := model.Actor{ID: "student-" + payload.Email, Role: model.RoleStudent}
	app, err := apps.Create(ctx, &model.Application{StudentID: student.ID, ApplicationPayload: payload}, student)
	require.NoError(t, err)
	if status == model.ApplicationStatusPending {
		return app
	}

	admin := model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	t2 := repository.Transition{
		ID:    app.ID,
		From:  []model.ApplicationStatus{model.ApplicationStatusPending},
		To:    status,
		Actor: admin,
	}
	if status == model.ApplicationStatusRejected || status == model.ApplicationStatusIncomplete {
		t2.Reason = "missing transcript"
		t2.Set = map[string]any{"rejection_reason": t2.Reason}
	}
	app, err = apps.Apply(ctx, t2)
	require.NoError(t, err)
	return app
}

// CreateTestStudent publishes an approved application and returns its
// profile.
func CreateTestStudent(t testing.TB, db *pg.DB, payload model.ApplicationPayload) *model.StudentProfile {
	t.Helper()
	ctx := context.Background()
	apps := repository.NewApplicationRepository(db)
	students := repository.NewStudentRepository(db)

	app := CreateTestApplication(t, apps, payload, model.ApplicationStatusApproved)
	var profile *model.StudentProfile
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := apps.MarkPosted(ctx, app.ID, model.Actor{ID: "admin-1", Role: model.RoleAdmin}); err != nil {
			return err
		}
		p, err := students.Create(ctx, model.NewStudentProfile(app))
		profile = p
		return err
	})
	require.NoError(t, err)
	return profile
}

func WaitForCondition(t testing.TB, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t testing.TB, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
