package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

// fakeS3 is an in-memory objectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func stores(t *testing.T) map[string]Store {
	fsStore, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		DriverMemory:     NewMemory(),
		DriverFilesystem: fsStore,
		DriverS3:         &S3{client: newFakeS3(), bucket: "zibridge"},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	key := Key("abc123")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			exists, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = store.Get(ctx, key)
			assert.True(t, apperrors.IsNotFound(err), "got %v", err)

			written, err := store.Put(ctx, key, []byte(`{"name":"Alice"}`))
			require.NoError(t, err)
			assert.True(t, written)

			written, err = store.Put(ctx, key, []byte(`{"name":"Mallory"}`))
			require.NoError(t, err)
			assert.False(t, written, "existing keys are never overwritten")

			data, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, `{"name":"Alice"}`, string(data))

			exists, err = store.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestS3SkipsPutForExistingKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := &S3{client: fake, bucket: "zibridge"}

	for i := 0; i < 3; i++ {
		_, err := store.Put(ctx, Key("h"), []byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.puts)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "blobs/deadbeef.json", Key("deadbeef"))

	hash, ok := HashOf("blobs/deadbeef.json")
	assert.True(t, ok)
	assert.Equal(t, "deadbeef", hash)

	_, ok = HashOf("other/deadbeef.json")
	assert.False(t, ok)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.json", []byte("x"))
	assert.Error(t, err)
	_, err = store.Get(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestMemoryCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Put(ctx, "a", []byte("1"))
	_, _ = m.Put(ctx, "a", []byte("1"))
	_, _ = m.Get(ctx, "a")

	assert.Equal(t, int64(1), m.Writes())
	assert.Equal(t, int64(1), m.Gets())
	assert.Equal(t, 1, m.Len())
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: DriverFilesystem, Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Filesystem{}, store)

	_, err = Open(context.Background(), Config{Driver: "tape"})
	assert.Error(t, err)
}
