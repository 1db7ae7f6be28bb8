package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printcraft/printcraft/internal/genclient"
	"github.com/printcraft/printcraft/internal/images"
	"github.com/printcraft/printcraft/internal/imagestore"
	inats "github.com/printcraft/printcraft/internal/nats"
	"github.com/printcraft/printcraft/internal/prompts"
	"github.com/printcraft/printcraft/internal/ratelimit"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// generatedPNG returns bytes that sniff as PNG and carry a recognisable tag.
func generatedPNG(tag string) []byte {
	return append(append([]byte(nil), pngSignature...), []byte(tag)...)
}

func photo(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(y), B: uint8(x), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakePrompts struct {
	prompts map[int64]*prompts.Prompt
	err     error
}

func (f *fakePrompts) GetByID(_ context.Context, id int64) (*prompts.Prompt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prompts[id], nil
}

// fakeBackend is an in-memory imagestore.Backend with per-key fault and
// latency injection.
type fakeBackend struct {
	mu      sync.Mutex
	objs    map[string][]byte
	failPut func(key string) bool
	delay   func(key string) time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objs: make(map[string][]byte)}
}

func (b *fakeBackend) Put(_ context.Context, key string, data []byte, _ string) error {
	if b.delay != nil {
		time.Sleep(b.delay(key))
	}
	if b.failPut != nil && b.failPut(key) {
		return errors.New("disk full")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objs[key] = data
	return nil
}

func (b *fakeBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objs[key]
	if !ok {
		return nil, imagestore.ErrNotFound
	}
	return data, nil
}

func (b *fakeBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objs[key]
	delete(b.objs, key)
	return ok, nil
}

func (b *fakeBackend) count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.objs {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func (b *fakeBackend) get(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objs[key]
}

type fakeImages struct {
	mu        sync.Mutex
	nextID    int64
	records   map[int64]*imagestore.StoredImage
	links     []*images.GenerationLink
	createErr func(img *imagestore.StoredImage) error
}

func newFakeImages() *fakeImages {
	return &fakeImages{nextID: 100, records: make(map[int64]*imagestore.StoredImage)}
}

func (f *fakeImages) Create(_ context.Context, img *imagestore.StoredImage) error {
	if f.createErr != nil {
		if err := f.createErr(img); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	img.ID = f.nextID
	cp := *img
	f.records[img.ID] = &cp
	return nil
}

func (f *fakeImages) GetByID(_ context.Context, id int64) (*imagestore.StoredImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeImages) CreateGenerationLink(_ context.Context, link *images.GenerationLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *link
	f.links = append(f.links, &cp)
	return nil
}

func (f *fakeImages) countType(t imagestore.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.Type == t {
			n++
		}
	}
	return n
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	sources [][]byte
	prompts []string
	opts    []genclient.Options
	outputs func(n int) [][]byte
	err     error
	ctxErr  error
}

func (g *fakeGenerator) Generate(ctx context.Context, source []byte, prompt string, opts genclient.Options) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.sources = append(g.sources, source)
	g.prompts = append(g.prompts, prompt)
	g.opts = append(g.opts, opts)
	g.ctxErr = ctx.Err()
	if g.err != nil {
		return nil, g.err
	}
	if g.outputs != nil {
		return g.outputs(opts.N), nil
	}
	out := make([][]byte, opts.N)
	for i := range out {
		out[i] = generatedPNG(string(rune('A' + i)))
	}
	return out, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeEvents struct {
	mu     sync.Mutex
	events []inats.GenerationEvent
	err    error
}

func (f *fakeEvents) PublishGenerationEvent(_ context.Context, event inats.GenerationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type testEnv struct {
	svc       *Service
	store     *imagestore.Store
	backend   *fakeBackend
	images    *fakeImages
	generator *fakeGenerator
	limiter   *ratelimit.MemoryLimiter
	events    *fakeEvents
}

const (
	activePromptID   = 1
	inactivePromptID = 2
	promptText       = "turn this photo into a watercolor painting"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newFakeBackend()
	store := imagestore.NewStore(backend, nil, "https://shop.example.com")
	env := &testEnv{
		store:     store,
		backend:   backend,
		images:    newFakeImages(),
		generator: &fakeGenerator{},
		limiter:   ratelimit.NewMemoryLimiter(ratelimit.DefaultPolicies()),
		events:    &fakeEvents{},
	}
	env.svc = NewService(Dependencies{
		Prompts: &fakePrompts{prompts: map[int64]*prompts.Prompt{
			activePromptID:   {ID: activePromptID, Title: "Watercolor", Text: promptText, Active: true},
			inactivePromptID: {ID: inactivePromptID, Title: "Retired", Text: "old", Active: false},
		}},
		Store:     store,
		Images:    env.images,
		Generator: env.generator,
		Limiter:   env.limiter,
		Policies:  ratelimit.DefaultPolicies(),
		Events:    env.events,
		MaxImages: 4,
	})
	return env
}

// storeOwned stores data as a private image owned by ownerID and returns its id.
func (e *testEnv) storeOwned(t *testing.T, data []byte, ownerID *int64) int64 {
	t.Helper()
	img, err := e.store.Store(context.Background(), data, imagestore.TypePrivate, imagestore.StoreOptions{OwnerID: ownerID})
	require.NoError(t, err)
	require.NoError(t, e.images.Create(context.Background(), img))
	return img.ID
}

func int64Ptr(v int64) *int64 { return &v }
