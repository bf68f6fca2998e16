package refreshtokens

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/cache"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/redis/go-redis/v9"
)

// memRepo is an in-memory refresh-token repository that counts calls.
type memRepo struct {
	mu    sync.Mutex
	rows  map[string]models.RefreshToken
	calls map[string]int

	createAffected *int64
	deleteAffected *int64
	err            error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]models.RefreshToken{}, calls: map[string]int{}}
}

func (r *memRepo) called(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *memRepo) put(t models.RefreshToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[t.ID] = t
}

func (r *memRepo) get(id string) (models.RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	return t, ok
}

func (r *memRepo) Create(_ context.Context, t *models.RefreshToken) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Create"]++
	if r.err != nil {
		return 0, r.err
	}
	if r.createAffected != nil {
		return *r.createAffected, nil
	}
	r.rows[t.ID] = *t
	return 1, nil
}

func (r *memRepo) sorted(keep func(models.RefreshToken) bool) []models.RefreshToken {
	out := make([]models.RefreshToken, 0)
	for _, t := range r.rows {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *memRepo) FindValidByUser(_ context.Context, userID string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["FindValidByUser"]++
	if r.err != nil {
		return nil, r.err
	}
	valid := r.sorted(func(t models.RefreshToken) bool { return t.UserID == userID && t.Valid(now) })
	if len(valid) == 0 {
		return nil, common.ErrNotFound
	}
	t := valid[0]
	return &t, nil
}

func (r *memRepo) ListByUser(_ context.Context, userID string) ([]models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListByUser"]++
	if r.err != nil {
		return nil, r.err
	}
	return r.sorted(func(t models.RefreshToken) bool { return t.UserID == userID }), nil
}

func (r *memRepo) Revoke(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Revoke"]++
	if r.err != nil {
		return 0, r.err
	}
	t, ok := r.rows[id]
	if !ok || t.Revoked {
		return 0, nil
	}
	t.Revoked = true
	r.rows[id] = t
	return 1, nil
}

func (r *memRepo) ListStale(_ context.Context, now time.Time) ([]models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListStale"]++
	if r.err != nil {
		return nil, r.err
	}
	return r.sorted(func(t models.RefreshToken) bool { return t.Stale(now) }), nil
}

func (r *memRepo) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["DeleteByIDs"]++
	if r.err != nil {
		return 0, r.err
	}
	if r.deleteAffected != nil {
		return *r.deleteAffected, nil
	}
	var n int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// pausingRepo holds FindValidByUser after the row is read until resume is
// closed.
type pausingRepo struct {
	*memRepo
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func newPausingRepo(r *memRepo) *pausingRepo {
	return &pausingRepo{memRepo: r, read: make(chan struct{}), resume: make(chan struct{})}
}

func (r *pausingRepo) FindValidByUser(ctx context.Context, userID string, now time.Time) (*models.RefreshToken, error) {
	t, err := r.memRepo.FindValidByUser(ctx, userID, now)
	r.once.Do(func() { close(r.read) })
	<-r.resume
	return t, err
}

type fakeRepoManager struct {
	r refreshtokensrepo.Repository
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return nil }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }

type fixture struct {
	m    *Manager
	repo *memRepo
	rm   *fakeRepoManager
	mr   *miniredis.Miniredis
	mock sqlmock.Sqlmock
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemRepo()
	c := cache.New(rdb, cache.TTL{Absolute: 7 * 24 * time.Hour}, logging.NopLogger{})
	rm := &fakeRepoManager{r: repo}
	m := NewManager(db, rm, c, 7*24*time.Hour, logging.NopLogger{})

	return &fixture{m: m, repo: repo, rm: rm, mr: mr, mock: mock, now: time.Now()}
}
