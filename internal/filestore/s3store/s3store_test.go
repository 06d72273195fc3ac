package s3store

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/checklist-bff/internal/filestore"
)

type storedObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type fakeS3 struct {
	objects map[string]storedObject
	puts    []*s3.PutObjectInput
	putErr  error
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]storedObject{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = storedObject{data: data, contentType: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func photo(data string) filestore.Upload {
	return filestore.Upload{
		Placement: filestore.Placement{OwnerKey: "site-a", BatchID: "b1", ItemID: "i1"},
		Name:      "i1.jpg",
		MimeType:  "image/jpeg",
		Size:      int64(len(data)),
		Body:      strings.NewReader(data),
	}
}

func TestPutAndOpen(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	s := newStore(fake, Config{Bucket: "photos", Prefix: "/checklists/"}, nil)
	s.newKey = func() string { return "fixed-uuid" }
	ctx := context.Background()

	key, err := s.Put(ctx, photo("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "checklists/fixed-uuid", key)

	in := fake.puts[0]
	assert.Equal(t, "photos", aws.ToString(in.Bucket))
	assert.Equal(t, int64(10), aws.ToInt64(in.ContentLength))
	assert.Equal(t, map[string]string{"owner-key": "site-a", "batch-id": "b1", "item-id": "i1"}, in.Metadata)

	obj, err := s.Open(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, int64(10), obj.Size)
}

func TestPutUnknownSize(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	s := newStore(fake, Config{Bucket: "photos"}, nil)

	u := photo("x")
	u.Size = -1
	key, err := s.Put(context.Background(), u)
	require.NoError(t, err)
	assert.NotContains(t, key, "/")
	assert.Nil(t, fake.puts[0].ContentLength)
}

func TestPutError(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	s := newStore(fake, Config{Bucket: "photos"}, nil)

	_, err := s.Put(context.Background(), photo("x"))
	assert.ErrorContains(t, err, "access denied")
}

func TestOpenNotFound(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	s := newStore(fake, Config{Bucket: "photos", Prefix: "checklists"}, nil)

	_, err := s.Open(context.Background(), "checklists/missing")
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	_, err = s.Open(context.Background(), "other/outside-prefix")
	assert.ErrorIs(t, err, filestore.ErrNotFound)

	fake.getErr = errors.New("timeout")
	_, err = s.Open(context.Background(), "checklists/any")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, filestore.ErrNotFound))
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestNewConfiguresEndpoint(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	var gotOpts s3.Options
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		assert.Equal(t, "sa-east-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&gotOpts)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}

	_, err := New(context.Background(), Config{
		Bucket:    "photos",
		Region:    "sa-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(gotOpts.BaseEndpoint))
	assert.True(t, gotOpts.UsePathStyle)
}

func TestNewPropagatesConfigError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no profile")
	}

	_, err := New(context.Background(), Config{Bucket: "photos"}, nil)
	assert.ErrorContains(t, err, "no profile")
}
