package post

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelfeed/service/internal/middleware"
	"github.com/pixelfeed/service/internal/response"
)

// Handler holds HTTP handlers for post endpoints.
type Handler struct {
	svc            *Service
	maxUploadBytes int64
}

// NewHandler creates a new post Handler.
func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

type feedData struct {
	Posts []FeedItem `json:"posts"`
}

type messageData struct {
	Message string `json:"message" example:"post deleted successfully"`
}

// Upload godoc
//
//	@Summary		Publish a media post
//	@Description	Upload an image or video with an optional caption. The media is stored in object storage and a post record is created only after the upload is confirmed.
//	@Tags			posts
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file	formData	file	true	"Media file (image or video)"
//	@Param			caption	formData	string	false	"Caption text"
//	@Success		201	{object}	response.Envelope{data=Post}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		413	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		response.BadRequest(w, "file field is required")
		return
	}
	defer file.Close()

	caption := r.FormValue("caption")
	contentType := header.Header.Get("Content-Type")

	p, err := h.svc.Publish(r.Context(), ident.ID, file, header.Filename, contentType, caption)
	if err != nil {
		log.Printf("publish failed for user %s: %v", ident.ID, err)
		response.InternalError(w)
		return
	}

	response.Created(w, p)
}

// Feed godoc
//
//	@Summary		Get the feed
//	@Description	All posts, newest first, each annotated with is_owner for the caller and the author's email (null if the author's account no longer exists).
//	@Tags			posts
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=feedData}
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/feed [get]
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	items, err := h.svc.Feed(r.Context(), ident.ID)
	if err != nil {
		log.Printf("feed assembly failed: %v", err)
		response.InternalError(w)
		return
	}

	response.OK(w, feedData{Posts: items})
}

// Delete godoc
//
//	@Summary		Delete a post
//	@Description	Remove a post the caller owns. The media object itself is kept; only the post record is removed.
//	@Tags			posts
//	@Produce		json
//	@Security		BearerAuth
//	@Param			post_id	path		string	true	"Post UUID"
//	@Success		200	{object}	response.Envelope{data=messageData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/posts/{post_id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	postID := chi.URLParam(r, "post_id")
	if _, err := uuid.Parse(postID); err != nil {
		response.BadRequest(w, "invalid post id")
		return
	}

	err := h.svc.Delete(r.Context(), postID, ident.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "post not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "you are not the owner of this post")
	case err != nil:
		log.Printf("delete post %s failed: %v", postID, err)
		response.InternalError(w)
	default:
		response.OK(w, messageData{Message: "post deleted successfully"})
	}
}
