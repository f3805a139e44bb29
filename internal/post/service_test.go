package post_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelfeed/service/internal/identity"
	"github.com/pixelfeed/service/internal/post"
	"github.com/pixelfeed/service/internal/staging"
	"github.com/pixelfeed/service/internal/storage"
)

// fakeObjectStore records uploads and serves a canned result or error.
type fakeObjectStore struct {
	mu         sync.Mutex
	uploads    int
	received   []byte
	stagedPath string
	result     *storage.UploadResult
	err        error
}

func (f *fakeObjectStore) Upload(ctx context.Context, reader io.Reader, size int64, displayName, contentType string) (*storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if staged, ok := reader.(*staging.Staged); ok {
		f.stagedPath = staged.Name()
	}
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.received = data
	return f.result, nil
}

// memStore is an in-memory post.Store. DeleteOwned holds the lock across
// the check and the removal, matching the single-statement semantics of
// the SQL implementation.
type memStore struct {
	mu        sync.Mutex
	posts     map[string]post.Post
	createErr error
}

func newMemStore() *memStore {
	return &memStore{posts: make(map[string]post.Post)}
}

func (m *memStore) Create(ctx context.Context, p *post.Post) (*post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	out := *p
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	m.posts[out.ID] = out
	return &out, nil
}

func (m *memStore) ListRecent(ctx context.Context) ([]post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	posts := make([]post.Post, 0, len(m.posts))
	for _, p := range m.posts {
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
	return posts, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, post.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) DeleteOwned(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return post.ErrNotFound
	}
	if p.UserID != ownerID {
		return post.ErrForbidden
	}
	delete(m.posts, id)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

// memDirectory serves a fixed identity projection.
type memDirectory struct {
	idents []identity.Identity
}

func (d *memDirectory) ListAll(ctx context.Context) ([]identity.Identity, error) {
	return d.idents, nil
}

func newService(posts post.Store, dir post.Directory, objects storage.ObjectStore) *post.Service {
	return post.NewService(posts, dir, objects, 5*time.Second)
}

// brokenReader fails partway through, simulating a dropped client stream.
type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

// hangingObjectStore never completes an upload; it blocks until the
// context is cancelled, simulating an unresponsive provider.
type hangingObjectStore struct{}

func (hangingObjectStore) Upload(ctx context.Context, reader io.Reader, size int64, displayName, contentType string) (*storage.UploadResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPublishSuccess(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjectStore{result: &storage.UploadResult{
		URL:        "http://cdn.example.com/media/abc123.png",
		StoredName: "abc123.png",
	}}
	svc := newService(store, &memDirectory{}, objects)

	content := []byte("fake png bytes")
	p, err := svc.Publish(context.Background(), "user-1", bytes.NewReader(content), "cat.png", "image/png", "my cat")
	require.NoError(t, err)

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "my cat", p.Caption)
	assert.Equal(t, "http://cdn.example.com/media/abc123.png", p.URL)
	assert.Equal(t, "abc123.png", p.FileName)
	assert.Equal(t, post.FileTypeImage, p.FileType)
	assert.False(t, p.CreatedAt.IsZero())

	// Record persisted and retrievable.
	got, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.URL, got.URL)

	// The store received exactly the staged bytes.
	assert.Equal(t, content, objects.received)

	// Staged buffer released after the pipeline.
	require.NotEmpty(t, objects.stagedPath)
	_, statErr := os.Stat(objects.stagedPath)
	assert.True(t, os.IsNotExist(statErr), "staging file should be removed after publish")
}

func TestPublishDerivesVideoType(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjectStore{result: &storage.UploadResult{
		URL:        "http://cdn.example.com/media/clip.mp4",
		StoredName: "clip.mp4",
	}}
	svc := newService(store, &memDirectory{}, objects)

	p, err := svc.Publish(context.Background(), "user-1", bytes.NewReader([]byte("mp4")), "clip.mp4", "video/mp4", "")
	require.NoError(t, err)
	assert.Equal(t, post.FileTypeVideo, p.FileType)
}

func TestPublishUploadFailureLeavesNoRecord(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjectStore{err: errors.New("503 slow down")}
	svc := newService(store, &memDirectory{}, objects)

	_, err := svc.Publish(context.Background(), "user-1", bytes.NewReader([]byte("data")), "cat.png", "image/png", "")
	require.ErrorIs(t, err, post.ErrUploadFailed)

	assert.Zero(t, store.count(), "a failed upload must not leave a post behind")

	require.NotEmpty(t, objects.stagedPath)
	_, statErr := os.Stat(objects.stagedPath)
	assert.True(t, os.IsNotExist(statErr), "staging file should be removed after a failed upload")
}

func TestPublishPersistFailureLeavesNoRecord(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("connection refused")
	objects := &fakeObjectStore{result: &storage.UploadResult{
		URL:        "http://cdn.example.com/media/x.png",
		StoredName: "x.png",
	}}
	svc := newService(store, &memDirectory{}, objects)

	_, err := svc.Publish(context.Background(), "user-1", bytes.NewReader([]byte("data")), "x.png", "image/png", "")
	require.ErrorIs(t, err, post.ErrUploadFailed)
	assert.Zero(t, store.count())

	_, statErr := os.Stat(objects.stagedPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublishUploadTimeoutLeavesNoRecord(t *testing.T) {
	store := newMemStore()
	svc := post.NewService(store, &memDirectory{}, hangingObjectStore{}, 50*time.Millisecond)

	_, err := svc.Publish(context.Background(), "user-1", bytes.NewReader([]byte("data")), "cat.png", "image/png", "")
	require.ErrorIs(t, err, post.ErrUploadFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Zero(t, store.count(), "a timed-out upload must not leave a post behind")
}

func TestPublishStagingFailureSkipsUpload(t *testing.T) {
	store := newMemStore()
	objects := &fakeObjectStore{}
	svc := newService(store, &memDirectory{}, objects)

	_, err := svc.Publish(context.Background(), "user-1", brokenReader{}, "cat.png", "image/png", "")
	require.ErrorIs(t, err, post.ErrUploadFailed)

	assert.Zero(t, objects.uploads, "no remote call after a staging failure")
	assert.Zero(t, store.count())
}

func seedPost(t *testing.T, store *memStore, userID string, age time.Duration) post.Post {
	t.Helper()
	p, err := store.Create(context.Background(), &post.Post{
		ID:        uuid.NewString(),
		UserID:    userID,
		Caption:   "seed",
		URL:       "http://cdn.example.com/media/seed.png",
		FileType:  post.FileTypeImage,
		FileName:  "seed.png",
		CreatedAt: time.Now().Add(-age),
	})
	require.NoError(t, err)
	return *p
}

func TestFeedOrderingAndOwnership(t *testing.T) {
	store := newMemStore()
	viewer := identity.Identity{ID: uuid.NewString(), Email: "viewer@example.com"}
	other := identity.Identity{ID: uuid.NewString(), Email: "other@example.com"}
	ghost := uuid.NewString() // author with no identity record

	oldest := seedPost(t, store, other.ID, 3*time.Hour)
	middle := seedPost(t, store, ghost, 2*time.Hour)
	newest := seedPost(t, store, viewer.ID, 1*time.Hour)

	dir := &memDirectory{idents: []identity.Identity{viewer, other}}
	svc := newService(store, dir, &fakeObjectStore{})

	items, err := svc.Feed(context.Background(), viewer.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Newest first, strictly non-increasing.
	assert.Equal(t, newest.ID, items[0].ID)
	assert.Equal(t, middle.ID, items[1].ID)
	assert.Equal(t, oldest.ID, items[2].ID)
	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].CreatedAt.After(items[i-1].CreatedAt))
	}

	// Ownership flags relative to the viewer.
	assert.True(t, items[0].IsOwner)
	assert.False(t, items[1].IsOwner)
	assert.False(t, items[2].IsOwner)

	// Email resolution; a dangling author keeps the post with a nil email.
	require.NotNil(t, items[0].Email)
	assert.Equal(t, "viewer@example.com", *items[0].Email)
	assert.Nil(t, items[1].Email)
	require.NotNil(t, items[2].Email)
	assert.Equal(t, "other@example.com", *items[2].Email)
}

func TestDeleteOwnedPost(t *testing.T) {
	store := newMemStore()
	owner := uuid.NewString()
	p := seedPost(t, store, owner, time.Hour)
	svc := newService(store, &memDirectory{}, &fakeObjectStore{})

	require.NoError(t, svc.Delete(context.Background(), p.ID, owner))

	_, err := store.GetByID(context.Background(), p.ID)
	assert.ErrorIs(t, err, post.ErrNotFound)
}

func TestDeleteForeignPostForbidden(t *testing.T) {
	store := newMemStore()
	owner := uuid.NewString()
	p := seedPost(t, store, owner, time.Hour)
	svc := newService(store, &memDirectory{}, &fakeObjectStore{})

	err := svc.Delete(context.Background(), p.ID, uuid.NewString())
	assert.ErrorIs(t, err, post.ErrForbidden)

	// Still there.
	_, err = store.GetByID(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestDeleteMissingPostNotFound(t *testing.T) {
	svc := newService(newMemStore(), &memDirectory{}, &fakeObjectStore{})
	err := svc.Delete(context.Background(), uuid.NewString(), uuid.NewString())
	assert.ErrorIs(t, err, post.ErrNotFound)
}

func TestConcurrentDoubleDelete(t *testing.T) {
	store := newMemStore()
	owner := uuid.NewString()
	p := seedPost(t, store, owner, time.Hour)
	svc := newService(store, &memDirectory{}, &fakeObjectStore{})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Delete(context.Background(), p.ID, owner)
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, notFound int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, post.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one delete must win")
	assert.Equal(t, 1, notFound, "the loser must see not-found")
	assert.Zero(t, store.count())
}

func TestDeriveFileType(t *testing.T) {
	assert.Equal(t, post.FileTypeVideo, post.DeriveFileType("video/mp4"))
	assert.Equal(t, post.FileTypeVideo, post.DeriveFileType("video/webm"))
	assert.Equal(t, post.FileTypeImage, post.DeriveFileType("image/png"))
	assert.Equal(t, post.FileTypeImage, post.DeriveFileType("application/octet-stream"))
	assert.Equal(t, post.FileTypeImage, post.DeriveFileType(""))
}
