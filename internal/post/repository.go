// Package post implements the media post lifecycle: publication, feed
// assembly, and ownership-gated deletion.
package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Post represents one published media item.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Caption   string    `json:"caption"`
	URL       string    `json:"url"`
	FileType  string    `json:"file_type"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// File types a post can carry.
const (
	FileTypeImage = "image"
	FileTypeVideo = "video"
)

// DeriveFileType maps a declared content type to a post file type:
// "video/*" is video, everything else is image.
func DeriveFileType(contentType string) string {
	if strings.HasPrefix(contentType, "video/") {
		return FileTypeVideo
	}
	return FileTypeImage
}

// ErrNotFound is returned when a post does not exist.
var ErrNotFound = errors.New("post not found")

// ErrForbidden is returned when the requester does not own the post.
var ErrForbidden = errors.New("not the owner of this post")

// ErrUploadFailed is returned when any stage of the publish pipeline
// fails. The underlying cause is wrapped alongside it.
var ErrUploadFailed = errors.New("upload failed")

// Repository handles all post database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new post and returns it with the server-assigned
// creation timestamp.
func (r *Repository) Create(ctx context.Context, p *Post) (*Post, error) {
	out := *p
	err := r.db.QueryRow(ctx,
		`INSERT INTO posts (id, user_id, caption, url, file_type, file_name)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		p.ID, p.UserID, p.Caption, p.URL, p.FileType, p.FileName,
	).Scan(&out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &out, nil
}

// ListRecent returns every post, newest first. Ties on created_at break
// by id so the order is deterministic.
func (r *Repository) ListRecent(ctx context.Context) ([]Post, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, caption, url, file_type, file_name, created_at
		 FROM posts
		 ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Caption, &p.URL, &p.FileType, &p.FileName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// GetByID fetches a post by its UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Post, error) {
	p := &Post{}
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, caption, url, file_type, file_name, created_at
		 FROM posts WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.UserID, &p.Caption, &p.URL, &p.FileType, &p.FileName, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post by id: %w", err)
	}
	return p, nil
}

// DeleteOwned removes the post only if ownerID matches its recorded
// owner, as a single conditional statement. When no row is affected, an
// existence probe distinguishes ErrNotFound from ErrForbidden. Two
// concurrent deletes of the same post therefore resolve to exactly one
// success and one ErrNotFound.
func (r *Repository) DeleteOwned(ctx context.Context, id, ownerID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM posts WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check post existence: %w", err)
	}
	if exists {
		return ErrForbidden
	}
	return ErrNotFound
}
