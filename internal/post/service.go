package post

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixelfeed/service/internal/identity"
	"github.com/pixelfeed/service/internal/staging"
	"github.com/pixelfeed/service/internal/storage"
)

// Store is the persistence surface the service needs. Satisfied by
// *Repository in production and by in-memory fakes in tests.
type Store interface {
	Create(ctx context.Context, p *Post) (*Post, error)
	ListRecent(ctx context.Context) ([]Post, error)
	DeleteOwned(ctx context.Context, id, ownerID string) error
}

// Directory resolves the known identities for feed decoration.
type Directory interface {
	ListAll(ctx context.Context) ([]identity.Identity, error)
}

// FeedItem is a post decorated for a specific viewer. Email is nil when
// the author no longer exists in the identity store; the post itself is
// still served.
type FeedItem struct {
	Post
	IsOwner bool    `json:"is_owner"`
	Email   *string `json:"email"`
}

// Service contains the business logic for posts: the publish pipeline,
// feed assembly, and ownership-gated deletion.
type Service struct {
	posts         Store
	identities    Directory
	objects       storage.ObjectStore
	uploadTimeout time.Duration
}

// NewService creates a new post Service.
func NewService(posts Store, identities Directory, objects storage.ObjectStore, uploadTimeout time.Duration) *Service {
	return &Service{
		posts:         posts,
		identities:    identities,
		objects:       objects,
		uploadTimeout: uploadTimeout,
	}
}

// Publish runs the three-step publish pipeline: buffer the media stream
// locally, upload it to the object store, and only after the store
// confirms success insert the post record. The staged buffer is released
// on every exit path. A post's url and file_name always come from the
// store's response for this exact call, so a failed upload can never
// leave a record behind.
func (s *Service) Publish(ctx context.Context, ownerID string, media io.Reader, fileName, contentType, caption string) (*Post, error) {
	staged, err := staging.Stage(media)
	if err != nil {
		return nil, fmt.Errorf("%w: stage media: %w", ErrUploadFailed, err)
	}
	defer staged.Close()

	// The remote call must not hang forever; a timed-out upload aborts
	// before any record is written.
	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	result, err := s.objects.Upload(uploadCtx, staged, staged.Size(), fileName, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: remote upload: %w", ErrUploadFailed, err)
	}

	created, err := s.posts.Create(ctx, &Post{
		ID:       uuid.NewString(),
		UserID:   ownerID,
		Caption:  caption,
		URL:      result.URL,
		FileType: DeriveFileType(contentType),
		FileName: result.StoredName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: persist post: %w", ErrUploadFailed, err)
	}
	return created, nil
}

// Feed returns every post, newest first, annotated with ownership
// relative to viewerID and the author's email. Posts and identities are
// fetched concurrently; the join runs in memory. A post whose author is
// gone keeps its place in the feed with a nil email.
//
// Both tables are read in full on every call. Fine at this scale; a
// larger deployment would want a write-time denormalized join instead.
func (s *Service) Feed(ctx context.Context, viewerID string) ([]FeedItem, error) {
	var (
		posts  []Post
		idents []identity.Identity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = s.posts.ListRecent(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		idents, err = s.identities.ListAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assemble feed: %w", err)
	}

	emails := make(map[string]string, len(idents))
	for _, ident := range idents {
		emails[ident.ID] = ident.Email
	}

	items := make([]FeedItem, 0, len(posts))
	for _, p := range posts {
		item := FeedItem{Post: p, IsOwner: p.UserID == viewerID}
		if email, ok := emails[p.UserID]; ok {
			item.Email = &email
		}
		items = append(items, item)
	}
	return items, nil
}

// Delete removes the post only if requesterID owns it. Returns
// ErrNotFound for a missing post and ErrForbidden for a foreign one; the
// check and the removal are a single conditional statement in the store,
// so concurrent deletes of the same post cannot race.
func (s *Service) Delete(ctx context.Context, postID, requesterID string) error {
	return s.posts.DeleteOwned(ctx, postID, requesterID)
}
