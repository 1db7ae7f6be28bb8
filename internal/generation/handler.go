package generation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/printcraft/printcraft/internal/api"
	"github.com/printcraft/printcraft/internal/auth"
	"github.com/printcraft/printcraft/internal/crop"
	"github.com/printcraft/printcraft/internal/images"
	"github.com/printcraft/printcraft/internal/imagestore"
	mw "github.com/printcraft/printcraft/internal/middleware"
)

type Handler struct {
	svc      *Service
	store    *imagestore.Store
	validate *validator.Validate
}

func NewHandler(svc *Service, store *imagestore.Store) *Handler {
	return &Handler{
		svc:      svc,
		store:    store,
		validate: validator.New(),
	}
}

// GeneratePublic handles an anonymous multipart generation request.
func (h *Handler) GeneratePublic(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := images.ReadFormFile(w, r, "image", h.store, imagestore.TypePrivate)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	promptID, err := strconv.ParseInt(r.FormValue("prompt_id"), 10, 64)
	if err != nil || promptID <= 0 {
		api.HandleError(w, api.NewValidationError("prompt_id must be a positive integer"))
		return
	}

	n := 0
	if raw := r.FormValue("n"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil {
			api.HandleError(w, api.NewValidationError("n must be an integer"))
			return
		}
	}

	area, err := parseCropForm(r)
	if err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	req := &Request{
		PromptID: promptID,
		Options: Options{
			Background: r.FormValue("background"),
			Quality:    r.FormValue("quality"),
			Size:       r.FormValue("size"),
			N:          n,
		},
		Crop:   area,
		Source: Upload{Data: data, ContentType: contentType},
	}

	result, err := h.svc.GeneratePublicImage(r.Context(), req, mw.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, result)
}

// GenerateUser handles an authenticated generation from a stored image.
func (h *Handler) GenerateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var body UserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	req := &Request{
		PromptID: body.PromptID,
		Options: Options{
			Background: body.Background,
			Quality:    body.Quality,
			Size:       body.Size,
			N:          body.N,
		},
		Crop:   body.Crop,
		Source: StoredRef{ImageID: body.SourceImageID},
	}

	result, err := h.svc.GenerateUserImage(r.Context(), req, userID, mw.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, result)
}

// Quota reports the remaining generations for the caller.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	caller := Caller{IP: mw.ClientIP(r)}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		caller.UserID = &userID
	}

	category, policy, remaining := h.svc.Quota(r.Context(), caller)
	api.JSON(w, http.StatusOK, QuotaResponse{
		Category:  string(category),
		Limit:     policy.Limit,
		Remaining: remaining,
		Window:    policy.Window.String(),
	})
}

var cropFields = [4]string{"crop_x", "crop_y", "crop_width", "crop_height"}

// parseCropForm returns nil when no crop field is present. Either all four
// fields are given or none.
func parseCropForm(r *http.Request) (*crop.Area, error) {
	var values [4]float64
	present := 0
	for i, field := range cropFields {
		raw := r.FormValue(field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New(field + " must be a number")
		}
		values[i] = v
		present++
	}

	switch present {
	case 0:
		return nil, nil
	case len(cropFields):
		return &crop.Area{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
	}
	return nil, errors.New("crop_x, crop_y, crop_width and crop_height must be given together")
}

func writeError(w http.ResponseWriter, err error) {
	var gerr *Error
	if !errors.As(err, &gerr) {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	switch gerr.Kind {
	case KindBadRequest:
		api.HandleError(w, api.NewBadRequestError(gerr.Message))
	case KindRateLimited:
		api.HandleError(w, api.NewRateLimitedError(gerr.Message, gerr.RetryAfter))
	case KindNotFound:
		api.HandleError(w, api.NewNotFoundError(gerr.Message))
	case KindForbidden:
		api.HandleError(w, api.NewForbiddenError(gerr.Message))
	case KindUpstreamGeneration:
		api.HandleError(w, api.ErrGenerationFailed)
	default:
		api.HandleError(w, api.ErrInternalServer)
	}
}
