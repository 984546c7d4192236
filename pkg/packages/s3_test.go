package packages

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	bucketExists bool
	created      int
	createErr    error
	putErr       error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func TestS3Blobs_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	blobs := newS3Blobs(fake, "packages", "gate")
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "projects/1/f", []byte("content")))
	assert.Contains(t, fake.objects, "gate/projects/1/f")

	data, err := blobs.Get(ctx, "projects/1/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	require.NoError(t, blobs.Delete(ctx, "projects/1/f"))
	_, err = blobs.Get(ctx, "projects/1/f")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Blobs_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	blobs := newS3Blobs(fake, "packages", "")

	err := blobs.Put(context.Background(), "k", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to s3")
}

func TestS3Blobs_EnsureBucket(t *testing.T) {
	t.Run("creates missing bucket", func(t *testing.T) {
		fake := newFakeS3()
		require.NoError(t, newS3Blobs(fake, "b", "").ensureBucket(context.Background()))
		assert.Equal(t, 1, fake.created)
	})

	t.Run("existing bucket", func(t *testing.T) {
		fake := newFakeS3()
		fake.bucketExists = true
		require.NoError(t, newS3Blobs(fake, "b", "").ensureBucket(context.Background()))
		assert.Equal(t, 0, fake.created)
	})

	t.Run("lost creation race", func(t *testing.T) {
		fake := newFakeS3()
		fake.createErr = &types.BucketAlreadyOwnedByYou{}
		assert.NoError(t, newS3Blobs(fake, "b", "").ensureBucket(context.Background()))
	})

	t.Run("creation fails", func(t *testing.T) {
		fake := newFakeS3()
		fake.createErr = errors.New("forbidden")
		assert.Error(t, newS3Blobs(fake, "b", "").ensureBucket(context.Background()))
	})
}

func TestS3Blobs_HealthCheck(t *testing.T) {
	fake := newFakeS3()
	blobs := newS3Blobs(fake, "b", "")
	assert.Error(t, blobs.HealthCheck(context.Background()))

	fake.bucketExists = true
	assert.NoError(t, blobs.HealthCheck(context.Background()))
}
