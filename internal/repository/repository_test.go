package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "repo.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestUserRepository_UpsertKeepsHashWhenAbsent(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &model.User{ID: 5, Username: "ann", Email: "a@x", PasswordHash: "h1"}))
	require.NoError(t, repo.Upsert(ctx, &model.User{ID: 5, Username: "ann2", Email: "a2@x"}))

	u, err := repo.GetByID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "ann2", u.Username)
	assert.Equal(t, "a2@x", u.Email)
	assert.Equal(t, "h1", u.PasswordHash)

	var cnt int64
	require.NoError(t, db.Model(&model.User{}).Count(&cnt).Error)
	assert.EqualValues(t, 1, cnt)
}

func TestUserRepository_AddUsedStorageFloorsAtZero(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, &model.User{ID: 7, Username: "bo", Email: "b@x"}))

	require.NoError(t, repo.AddUsedStorage(ctx, 7, 10))
	require.NoError(t, repo.AddUsedStorage(ctx, 7, -4))
	u, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 6, u.UsedStorage)

	require.NoError(t, repo.AddUsedStorage(ctx, 7, -100))
	u, err = repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 0, u.UsedStorage)

	// 不存在的用户
	assert.NoError(t, repo.AddUsedStorage(ctx, 99, 5))
}

func TestUserRepository_NotFound(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))
	_, err := repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByUsernameOrEmail(context.Background(), "x", "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_UpsertDeleteAndPermissions(t *testing.T) {
	repo := NewFileRepository(newTestDB(t))
	ctx := context.Background()

	f := &model.File{ID: 7, UserID: 1, StoredFilename: "s.txt", OriginalFilename: "o.txt",
		UploadDate: time.Now().UTC(), FileSize: 3, Permissions: model.PermissionPrivate}
	require.NoError(t, repo.Upsert(ctx, f))
	f.FileSize = 4
	require.NoError(t, repo.Upsert(ctx, f))

	got, err := repo.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.FileSize)

	ok, err := repo.UpdatePermissions(ctx, 7, model.PermissionPublic)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.UpdatePermissions(ctx, 99, model.PermissionPublic)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.PermissionPublic, list[0].Permissions)

	ok, err = repo.Delete(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Delete(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFriendRepository_PairIsSymmetricAndIdempotent(t *testing.T) {
	repo := NewFriendRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.AddPair(ctx, 1, 2))
	require.NoError(t, repo.AddPair(ctx, 1, 2))

	for _, p := range [][2]int64{{1, 2}, {2, 1}} {
		ok, err := repo.AreFriends(ctx, p[0], p[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ids, err := repo.ListFriendIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	n, err := repo.RemovePair(ctx, 2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	ok, err := repo.AreFriends(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFriendRepository_Requests(t *testing.T) {
	repo := NewFriendRepository(newTestDB(t))
	ctx := context.Background()

	fr := &model.FriendRequest{FromUserID: 1, ToUserID: 2}
	require.NoError(t, repo.CreateRequest(ctx, fr))
	assert.NotZero(t, fr.ID)

	pending, err := repo.FindPending(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, fr.ID, pending.ID)

	in, err := repo.ListIncoming(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, in, 1)

	require.NoError(t, repo.SetStatus(ctx, fr.ID, model.RequestAccepted))
	_, err = repo.FindPending(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.GetRequest(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.Status)
}
