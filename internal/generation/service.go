// Package generation turns a source photo and a curated prompt into stored,
// addressable AI-generated images.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/printcraft/printcraft/internal/crop"
	"github.com/printcraft/printcraft/internal/genclient"
	"github.com/printcraft/printcraft/internal/images"
	"github.com/printcraft/printcraft/internal/imagestore"
	"github.com/printcraft/printcraft/internal/metrics"
	inats "github.com/printcraft/printcraft/internal/nats"
	"github.com/printcraft/printcraft/internal/prompts"
	"github.com/printcraft/printcraft/internal/ratelimit"
)

const msgGenerationFailed = "failed to generate image, please try again later"

type PromptLookup interface {
	GetByID(ctx context.Context, id int64) (*prompts.Prompt, error)
}

type ImageStore interface {
	Validate(data []byte, declared string, t imagestore.Type) (string, error)
	Store(ctx context.Context, data []byte, t imagestore.Type, opts imagestore.StoreOptions) (*imagestore.StoredImage, error)
	Load(ctx context.Context, filename string, t imagestore.Type) ([]byte, error)
	URLFor(filename string, t imagestore.Type) string
}

type ImageRecords interface {
	Create(ctx context.Context, img *imagestore.StoredImage) error
	GetByID(ctx context.Context, id int64) (*imagestore.StoredImage, error)
	CreateGenerationLink(ctx context.Context, link *images.GenerationLink) error
}

type Generator interface {
	Generate(ctx context.Context, source []byte, prompt string, opts genclient.Options) ([][]byte, error)
}

type EventPublisher interface {
	PublishGenerationEvent(ctx context.Context, event inats.GenerationEvent) error
}

// Dependencies are the collaborators of a Service. Events may be nil.
type Dependencies struct {
	Prompts   PromptLookup
	Store     ImageStore
	Images    ImageRecords
	Generator Generator
	Limiter   ratelimit.Limiter
	Policies  ratelimit.Policies
	Events    EventPublisher
	MaxImages int
}

// Service coordinates one generation from validation to persisted results.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	prompts   PromptLookup
	store     ImageStore
	images    ImageRecords
	generator Generator
	limiter   ratelimit.Limiter
	policies  ratelimit.Policies
	events    EventPublisher
	maxImages int
	crop      func([]byte, crop.Area) ([]byte, error)
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(deps Dependencies) *Service {
	if deps.Policies == nil {
		deps.Policies = ratelimit.DefaultPolicies()
	}
	if deps.MaxImages <= 0 {
		deps.MaxImages = 4
	}
	return &Service{
		prompts:   deps.Prompts,
		store:     deps.Store,
		images:    deps.Images,
		generator: deps.Generator,
		limiter:   deps.Limiter,
		policies:  deps.Policies,
		events:    deps.Events,
		maxImages: deps.MaxImages,
		crop:      crop.Apply,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// GeneratePublicImage runs an anonymous generation from an uploaded photo.
func (s *Service) GeneratePublicImage(ctx context.Context, req *Request, ip string) (*Result, error) {
	if _, ok := req.Source.(Upload); !ok {
		return nil, s.reject(Caller{IP: ip}, badRequest("an uploaded image is required", nil))
	}
	return s.generate(ctx, req, Caller{IP: ip})
}

// GenerateUserImage runs a generation for a signed-in user. The source may be
// an upload or an image the user stored earlier.
func (s *Service) GenerateUserImage(ctx context.Context, req *Request, userID int64, ip string) (*Result, error) {
	return s.generate(ctx, req, Caller{UserID: &userID, IP: ip})
}

// Quota reports the caller's category, policy and remaining admissions.
func (s *Service) Quota(ctx context.Context, caller Caller) (ratelimit.Category, ratelimit.Policy, int) {
	identifier, category := quotaKey(caller)
	return category, s.policies[category], s.limiter.Remaining(ctx, identifier, category)
}

func (s *Service) generate(ctx context.Context, req *Request, caller Caller) (*Result, error) {
	start := s.now()

	// Validating
	prompt, verr := s.validateRequest(ctx, req)
	if verr != nil {
		return nil, s.reject(caller, verr)
	}
	opts := req.Options
	if opts.N == 0 {
		opts.N = 1
	}

	// QuotaChecking
	identifier, category := quotaKey(caller)
	if !s.limiter.Admit(ctx, identifier, category) {
		metrics.RateLimitDeniedTotal.WithLabelValues(string(category)).Inc()
		return nil, s.reject(caller, &Error{
			Kind:       KindRateLimited,
			Message:    "generation limit reached, try again later",
			RetryAfter: s.policies[category].Window,
		})
	}

	// Past this point the caller going away does not abort the pipeline.
	ctx = context.WithoutCancel(ctx)
	log := slog.With("prompt_id", req.PromptID, "caller", identifier)

	result, sourceID, err := s.run(ctx, log, req, prompt, opts, caller)
	s.finish(ctx, log, req, caller, sourceID, opts.N, result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) validateRequest(ctx context.Context, req *Request) (*prompts.Prompt, *Error) {
	if req.Source == nil {
		return nil, badRequest("a source image is required", nil)
	}
	if err := s.validate.Struct(req.Options); err != nil {
		return nil, badRequest("invalid generation options", err)
	}
	if req.Options.N > s.maxImages {
		return nil, badRequest("too many images requested", nil)
	}
	if req.Crop != nil {
		if err := req.Crop.Validate(); err != nil {
			return nil, badRequest(err.Error(), err)
		}
	}

	prompt, err := s.prompts.GetByID(ctx, req.PromptID)
	if err != nil {
		return nil, storageFailure("internal server error", err)
	}
	if prompt == nil || !prompt.Active {
		return nil, badRequest("prompt not found or inactive", nil)
	}

	if up, ok := req.Source.(Upload); ok {
		if _, err := s.store.Validate(up.Data, up.ContentType, imagestore.TypePrivate); err != nil {
			return nil, badRequest(err.Error(), err)
		}
	}
	return prompt, nil
}

func (s *Service) run(ctx context.Context, log *slog.Logger, req *Request, prompt *prompts.Prompt, opts Options, caller Caller) (*Result, int64, error) {
	// ResolvingSource
	source, sourceID, err := s.resolveSource(ctx, req.Source, caller)
	if err != nil {
		return nil, 0, err
	}

	// Cropping
	if req.Crop != nil {
		source, err = s.crop(source, *req.Crop)
		if err != nil {
			if errors.Is(err, crop.ErrOutOfBounds) || errors.Is(err, crop.ErrInvalidArea) || errors.Is(err, crop.ErrUnsupportedImage) {
				return nil, sourceID, badRequest(err.Error(), err)
			}
			return nil, sourceID, storageFailure("internal server error", err)
		}
	}

	// Generating
	outputs, err := s.generator.Generate(ctx, source, prompt.Text, genclient.Options{
		Background: opts.Background,
		Quality:    opts.Quality,
		Size:       opts.Size,
		N:          opts.N,
	})
	if err != nil {
		return nil, sourceID, &Error{Kind: KindUpstreamGeneration, Message: msgGenerationFailed, Err: err}
	}
	if len(outputs) != opts.N {
		log.Warn("generator returned unexpected image count", "requested", opts.N, "returned", len(outputs))
	}

	// Persisting
	result, err := s.persist(ctx, log, outputs, req.PromptID, sourceID, caller)
	return result, sourceID, err
}

func (s *Service) resolveSource(ctx context.Context, src Source, caller Caller) ([]byte, int64, error) {
	switch src := src.(type) {
	case Upload:
		img, err := s.store.Store(ctx, src.Data, imagestore.TypePrivate, imagestore.StoreOptions{
			ContentType: src.ContentType,
			OwnerID:     caller.UserID,
		})
		if err != nil {
			if errors.Is(err, imagestore.ErrInvalidImage) {
				return nil, 0, badRequest(err.Error(), err)
			}
			return nil, 0, storageFailure("internal server error", err)
		}
		if err := s.images.Create(ctx, img); err != nil {
			return nil, 0, storageFailure("internal server error", err)
		}
		return src.Data, img.ID, nil

	case StoredRef:
		rec, err := s.images.GetByID(ctx, src.ImageID)
		if err != nil {
			return nil, 0, storageFailure("internal server error", err)
		}
		if rec == nil {
			return nil, 0, &Error{Kind: KindNotFound, Message: "source image not found"}
		}
		if rec.OwnerID == nil || caller.UserID == nil || *rec.OwnerID != *caller.UserID {
			return nil, 0, &Error{Kind: KindForbidden, Message: "source image belongs to another user"}
		}
		data, err := s.store.Load(ctx, rec.Filename, rec.Type)
		if err != nil {
			if errors.Is(err, imagestore.ErrNotFound) {
				return nil, 0, &Error{Kind: KindNotFound, Message: "source image not found", Err: err}
			}
			return nil, 0, storageFailure("internal server error", err)
		}
		return data, rec.ID, nil
	}
	return nil, 0, badRequest("unsupported source", nil)
}

// persist stores outputs in order. Images stored before a failure are left in
// place and reported in the log.
func (s *Service) persist(ctx context.Context, log *slog.Logger, outputs [][]byte, promptID, sourceID int64, caller Caller) (*Result, error) {
	result := &Result{
		ImageURLs:         make([]string, 0, len(outputs)),
		GeneratedImageIDs: make([]int64, 0, len(outputs)),
	}
	var stored []string

	for i, data := range outputs {
		position := i + 1
		img, err := s.store.Store(ctx, data, imagestore.TypeGenerated, imagestore.StoreOptions{
			OwnerID:       caller.UserID,
			SourceImageID: &sourceID,
			Position:      position,
		})
		if err == nil {
			stored = append(stored, img.Filename)
			err = s.images.Create(ctx, img)
		}
		if err == nil {
			err = s.images.CreateGenerationLink(ctx, &images.GenerationLink{
				ImageID:  img.ID,
				PromptID: promptID,
				OwnerID:  caller.UserID,
				CallerIP: caller.IP,
				Position: position,
			})
		}
		if err != nil {
			log.Error("persisting generated image",
				"error", err,
				"position", position,
				"of", len(outputs),
				"orphaned", stored,
			)
			return nil, storageFailure("internal server error", err)
		}

		result.ImageURLs = append(result.ImageURLs, s.store.URLFor(img.Filename, imagestore.TypeGenerated))
		result.GeneratedImageIDs = append(result.GeneratedImageIDs, img.ID)
	}
	return result, nil
}

// reject records a failure that happened before any side effect.
func (s *Service) reject(caller Caller, err *Error) error {
	metrics.GenerationsTotal.WithLabelValues(callerClass(caller), err.Kind.String()).Inc()
	slog.Debug("generation rejected", "kind", err.Kind, "error", err)
	return err
}

func (s *Service) finish(ctx context.Context, log *slog.Logger, req *Request, caller Caller, sourceID int64, n int, result *Result, err error, start time.Time) {
	status := "completed"
	event := inats.GenerationEvent{
		ID:            uuid.NewString(),
		PromptID:      req.PromptID,
		UserID:        caller.UserID,
		CallerIP:      caller.IP,
		SourceImageID: sourceID,
		Requested:     n,
		Duration:      s.now().Sub(start).Seconds(),
		Timestamp:     s.now().UTC(),
	}

	if err != nil {
		kind := KindOf(err)
		status = "failed"
		event.Error = kind.String()
		metrics.GenerationsTotal.WithLabelValues(callerClass(caller), kind.String()).Inc()
		if kind == KindUpstreamGeneration || kind == KindStorage {
			log.Error("generation failed", "kind", kind, "error", err)
		} else {
			log.Info("generation rejected", "kind", kind, "error", err)
		}
	} else {
		event.GeneratedImageIDs = result.GeneratedImageIDs
		metrics.GenerationsTotal.WithLabelValues(callerClass(caller), status).Inc()
		log.Info("generation completed", "images", len(result.GeneratedImageIDs), "duration", s.now().Sub(start))
	}
	event.Status = status

	if s.events == nil {
		return
	}
	if perr := s.events.PublishGenerationEvent(ctx, event); perr != nil {
		log.Warn("publishing generation event", "error", perr)
	}
}

func quotaKey(caller Caller) (string, ratelimit.Category) {
	if caller.UserID != nil {
		return ratelimit.UserIdentifier(*caller.UserID), ratelimit.CategoryAuthenticated
	}
	return ratelimit.IPIdentifier(caller.IP), ratelimit.CategoryAnonymous
}

func callerClass(caller Caller) string {
	if caller.UserID != nil {
		return string(ratelimit.CategoryAuthenticated)
	}
	return string(ratelimit.CategoryAnonymous)
}
