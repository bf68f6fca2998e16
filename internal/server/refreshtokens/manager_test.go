package refreshtokens

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_PersistsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.m.Create(ctx, "1")
	require.NoError(t, err)

	assert.Equal(t, "1", tok.UserID)
	assert.False(t, tok.Revoked)
	assert.WithinDuration(t, f.now.Add(7*24*time.Hour), tok.ExpiresAt, 5*time.Second)

	raw, err := base64.StdEncoding.DecodeString(tok.Token)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	_, stored := f.repo.get(tok.ID)
	assert.True(t, stored)
	assert.True(t, f.mr.Exists(ValidKey("1")))

	again, err := f.m.GetValid(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, tok.Token, again.Token)
	assert.Zero(t, f.repo.called("FindValidByUser"), "lookup right after create must be a cache hit")
}

func TestCreate_UnconfirmedInsertIsNotCached(t *testing.T) {
	f := newFixture(t)
	zero := int64(0)
	f.repo.createAffected = &zero

	_, err := f.m.Create(context.Background(), "1")
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.False(t, f.mr.Exists(ValidKey("1")))
}

func TestCreate_RepoError(t *testing.T) {
	f := newFixture(t)
	f.repo.err = errors.New("db down")

	_, err := f.m.Create(context.Background(), "1")
	require.Error(t, err)
	assert.False(t, f.mr.Exists(ValidKey("1")))
}

func TestCreate_TokenGenerationError(t *testing.T) {
	f := newFixture(t)
	f.m.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := f.m.Create(context.Background(), "1")
	require.Error(t, err)
	assert.Zero(t, f.repo.called("Create"))
}

func TestCreate_DropsCachedList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.GetAll(ctx, "1")
	require.NoError(t, err)
	require.True(t, f.mr.Exists(AllKey("1")))

	_, err = f.m.Create(ctx, "1")
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(AllKey("1")))
}

func TestGetValid_MissLoadsFromStoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.put(models.RefreshToken{ID: "a", UserID: "1", Token: "tok", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})

	for i := 0; i < 3; i++ {
		got, err := f.m.GetValid(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "tok", got.Token)
	}
	assert.Equal(t, 1, f.repo.called("FindValidByUser"))

	// the cached copy must not outlive the token
	assert.LessOrEqual(t, f.mr.TTL(ValidKey("1")), time.Hour)
}

func TestGetValid_NoSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.GetValid(context.Background(), "1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, f.mr.Exists(ValidKey("1")))
}

func TestGetValid_MostRecentWins(t *testing.T) {
	f := newFixture(t)

	f.repo.put(models.RefreshToken{ID: "old", UserID: "1", Token: "old", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now.Add(-time.Hour)})
	f.repo.put(models.RefreshToken{ID: "new", UserID: "1", Token: "new", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})

	got, err := f.m.GetValid(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestGetValid_SkipsStaleCachedCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	revoked := models.RefreshToken{ID: "r", UserID: "1", Token: "r", Revoked: true, ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now}
	require.NoError(t, f.m.cache.Set(ctx, ValidKey("1"), revoked))

	_, err := f.m.GetValid(ctx, "1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	expired := models.RefreshToken{ID: "e", UserID: "2", Token: "e", ExpiresAt: f.now.Add(-time.Minute), CreatedAt: f.now}
	require.NoError(t, f.m.cache.Set(ctx, ValidKey("2"), expired))
	f.repo.put(models.RefreshToken{ID: "v", UserID: "2", Token: "v", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})

	got, err := f.m.GetValid(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "v", got.ID)
}

func TestGetValid_CorruptCacheIsFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set(ValidKey("1"), "%%%"))

	_, err := f.m.GetValid(context.Background(), "1")
	assert.ErrorIs(t, err, common.ErrCacheCorruption)
	assert.Zero(t, f.repo.called("FindValidByUser"))
}

func TestGetAll_UsesItsOwnKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.m.Create(ctx, "1")
	require.NoError(t, err)
	f.repo.put(models.RefreshToken{ID: "old", UserID: "1", Revoked: true, ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now.Add(-time.Hour)})

	all, err := f.m.GetAll(ctx, "1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, created.ID, all[0].ID)

	_, err = f.m.GetAll(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.called("ListByUser"))

	valid, err := f.m.GetValid(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, valid.ID, "list and single lookups must not clobber each other")
}

func TestRevoke_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.m.Create(ctx, "1")
	require.NoError(t, err)
	_, err = f.m.GetAll(ctx, "1")
	require.NoError(t, err)

	current, err := f.m.GetValid(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, f.m.Revoke(ctx, current))

	assert.True(t, current.Revoked)
	assert.False(t, f.mr.Exists(ValidKey("1")))
	assert.False(t, f.mr.Exists(AllKey("1")))

	row, _ := f.repo.get(tok.ID)
	assert.True(t, row.Revoked)

	_, err = f.m.GetValid(ctx, "1")
	assert.ErrorIs(t, err, common.ErrNotFound, "a revoked token must never come back")
}

func TestRevoke_WaitsForInFlightFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.m.Create(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, f.m.cache.Remove(ctx, ValidKey("1")))

	paused := newPausingRepo(f.repo)
	f.rm.r = paused

	fillDone := make(chan error, 1)
	go func() {
		_, err := f.m.GetValid(ctx, "1")
		fillDone <- err
	}()
	<-paused.read

	revokeDone := make(chan error, 1)
	go func() {
		cp := *tok
		revokeDone <- f.m.Revoke(ctx, &cp)
	}()

	select {
	case err := <-revokeDone:
		t.Fatalf("revoke finished while a fill of the same user was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(paused.resume)
	require.NoError(t, <-fillDone)
	require.NoError(t, <-revokeDone)

	assert.False(t, f.mr.Exists(ValidKey("1")), "the pre-revoke copy must not survive in cache")
	_, err = f.m.GetValid(ctx, "1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRevoke_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.m.Create(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, f.m.Revoke(ctx, tok))
	err = f.m.Revoke(ctx, tok)
	assert.ErrorIs(t, err, common.ErrPersistence)
}

func TestRevoke_ConcurrentSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.m.Create(ctx, "1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *tok
			errs <- f.m.Revoke(ctx, &cp)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, lost int
	for err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, common.ErrPersistence) {
			lost++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, lost)
	assert.Zero(t, f.m.locks.size())
}

func TestSweep_DeletesOnlyStaleRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.put(models.RefreshToken{ID: "revoked", UserID: "1", Revoked: true, ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})
	f.repo.put(models.RefreshToken{ID: "expired", UserID: "2", ExpiresAt: f.now.Add(-time.Hour), CreatedAt: f.now})
	f.repo.put(models.RefreshToken{ID: "valid", UserID: "3", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})

	_, err := f.m.GetAll(ctx, "1")
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	n, err := f.m.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, ok := f.repo.get("valid")
	assert.True(t, ok)
	_, ok = f.repo.get("revoked")
	assert.False(t, ok)
	_, ok = f.repo.get("expired")
	assert.False(t, ok)

	assert.False(t, f.mr.Exists(AllKey("1")), "owners of swept rows lose their cache entries")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSweep_NothingToDo(t *testing.T) {
	f := newFixture(t)
	f.repo.put(models.RefreshToken{ID: "valid", UserID: "3", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	n, err := f.m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.repo.called("DeleteByIDs"))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSweep_CandidatesButNothingDeleted(t *testing.T) {
	f := newFixture(t)
	f.repo.put(models.RefreshToken{ID: "revoked", UserID: "1", Revoked: true, ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now})
	zero := int64(0)
	f.repo.deleteAffected = &zero

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.m.Sweep(context.Background())
	assert.ErrorIs(t, err, common.ErrPersistence)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSweep_RepoError(t *testing.T) {
	f := newFixture(t)
	f.repo.err = errors.New("db down")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.m.Sweep(context.Background())
	require.Error(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
