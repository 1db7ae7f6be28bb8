package images

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/printcraft/printcraft/internal/api"
	"github.com/printcraft/printcraft/internal/auth"
	"github.com/printcraft/printcraft/internal/imagestore"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart framing and other form fields.
const multipartOverhead = 1 << 20

type Handler struct {
	store *imagestore.Store
	repo  Repository
}

func NewHandler(store *imagestore.Store, repo Repository) *Handler {
	return &Handler{store: store, repo: repo}
}

// Upload stores a private source image for the signed-in user.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	data, contentType, err := ReadFormFile(w, r, "image", h.store, imagestore.TypePrivate)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	img, err := h.store.Store(r.Context(), data, imagestore.TypePrivate, imagestore.StoreOptions{
		ContentType: contentType,
		OwnerID:     &userID,
	})
	if err != nil {
		if errors.Is(err, imagestore.ErrInvalidImage) {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		slog.Error("storing upload", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	if err := h.repo.Create(r.Context(), img); err != nil {
		slog.Error("recording upload", "error", err, "user_id", userID, "filename", img.Filename)
		if _, delErr := h.store.Delete(r.Context(), img.Filename, img.Type); delErr != nil {
			slog.Warn("removing unrecorded upload", "error", delErr, "filename", img.Filename)
		}
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, UploadResponse{
		ID:          img.ID,
		URL:         h.store.URLFor(img.Filename, img.Type),
		ContentType: img.ContentType,
		Size:        img.Size,
	})
}

// Serve streams a stored image. Private images are only served to their owner.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	t, err := imagestore.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}
	filename := chi.URLParam(r, "filename")
	if !imagestore.ValidFilename(filename) {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	if t == imagestore.TypePrivate {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}
		rec, err := h.repo.GetByFilename(r.Context(), filename)
		if err != nil {
			slog.Error("looking up image", "error", err, "filename", filename)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		if rec == nil || rec.Type != t {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		if rec.OwnerID == nil || *rec.OwnerID != userID {
			api.HandleError(w, api.ErrForbidden)
			return
		}
	}

	data, err := h.store.Load(r.Context(), filename, t)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		slog.Error("loading image", "error", err, "filename", filename, "type", t)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	w.Header().Set("Content-Type", imagestore.ContentTypeOf(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if t == imagestore.TypePrivate {
		w.Header().Set("Cache-Control", "private, no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ReadFormFile reads a multipart file field, capping the request body at the
// size limit of t. It returns the bytes and the declared content type.
func ReadFormFile(w http.ResponseWriter, r *http.Request, field string, store *imagestore.Store, t imagestore.Type) ([]byte, string, error) {
	policy, ok := store.Policy(t)
	if !ok {
		return nil, "", api.ErrInternalServer
	}

	r.Body = http.MaxBytesReader(w, r.Body, policy.MaxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", api.ErrPayloadTooLarge
		}
		return nil, "", api.NewBadRequestError("invalid multipart form")
	}

	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", api.NewBadRequestError(field + " file is required")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, policy.MaxSize+1))
	if err != nil {
		return nil, "", api.NewBadRequestError("reading uploaded file")
	}
	return data, hdr.Header.Get("Content-Type"), nil
}
