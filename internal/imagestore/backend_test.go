package imagestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBackend_CreatesTypeDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	_, err := NewFSBackend(root, nil)
	require.NoError(t, err)

	for _, dir := range []string{"private", "public", "generated"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestFSBackend_PutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	b, err := NewFSBackend(root, nil)
	require.NoError(t, err)

	require.NoError(t, b.Put(context.Background(), "private/a.png", []byte("x"), ContentTypePNG))

	entries, err := os.ReadDir(filepath.Join(root, "private"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.png", entries[0].Name())
}

func TestFSBackend_GetMissing(t *testing.T) {
	b, err := NewFSBackend(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "private/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeObjectAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut bool
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeObjectAPI) PutObject(_ context.Context, bucket, name string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut {
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	f.types[name] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: int64(len(data))}, nil
}

func (f *fakeObjectAPI) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not used")
}

func (f *fakeObjectAPI) StatObject(_ context.Context, _, name string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", Key: name}
	}
	return minio.ObjectInfo{Key: name, Size: int64(len(data))}, nil
}

func (f *fakeObjectAPI) RemoveObject(_ context.Context, _, name string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

// read mirrors what readObject does against a real minio.Object.
func (f *fakeObjectAPI) read(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: name}
	}
	return data, nil
}

func newFakeS3Backend() (*S3Backend, *fakeObjectAPI) {
	api := newFakeObjectAPI()
	b := NewS3BackendWithClient(api, "images")
	b.read = func(ctx context.Context, key string) ([]byte, error) {
		data, err := api.read(ctx, key)
		if err != nil {
			return nil, b.mapError(key, err)
		}
		return data, nil
	}
	return b, api
}

func TestS3Backend_PutSetsContentType(t *testing.T) {
	b, api := newFakeS3Backend()

	require.NoError(t, b.Put(context.Background(), "public/a.webp", []byte("data"), ContentTypeWebP))
	assert.Equal(t, ContentTypeWebP, api.types["public/a.webp"])
	assert.Equal(t, []byte("data"), api.objects["public/a.webp"])
}

func TestS3Backend_PutFailure(t *testing.T) {
	b, api := newFakeS3Backend()
	api.failPut = true

	err := b.Put(context.Background(), "public/a.webp", []byte("data"), ContentTypeWebP)
	assert.Error(t, err)
}

func TestS3Backend_GetMissingMapsToNotFound(t *testing.T) {
	b, _ := newFakeS3Backend()

	_, err := b.Get(context.Background(), "private/none.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Backend_DeleteReportsExistence(t *testing.T) {
	b, _ := newFakeS3Backend()
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "private/a.png", []byte("x"), ContentTypePNG))

	deleted, err := b.Delete(ctx, "private/a.png")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = b.Delete(ctx, "private/a.png")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_WithS3Backend(t *testing.T) {
	b, _ := newFakeS3Backend()
	s := NewStore(b, nil, "https://img.example.com")
	ctx := context.Background()

	img, err := s.Store(ctx, pngBytes(t, 8, 8), TypeGenerated, StoreOptions{Position: 1})
	require.NoError(t, err)

	data, err := s.Load(ctx, img.Filename, TypeGenerated)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "https://img.example.com/images/generated/"+img.Filename, s.URLFor(img.Filename, TypeGenerated))
}
