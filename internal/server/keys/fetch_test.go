package keys

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Fetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "k.pub")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	s3Calls := []string{}
	r := NewResolver(FetcherFunc(func(_ context.Context, loc string) ([]byte, error) {
		s3Calls = append(s3Calls, loc)
		return []byte("from-s3"), nil
	}))
	ctx := context.Background()

	got, err := r.Fetch(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", string(got))

	inline := "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----"
	got, err = r.Fetch(ctx, "\n"+inline+"\n")
	require.NoError(t, err)
	assert.Equal(t, inline, string(got))

	got, err = r.Fetch(ctx, "s3://bucket/keys/k.pub")
	require.NoError(t, err)
	assert.Equal(t, "from-s3", string(got))
	assert.Equal(t, []string{"s3://bucket/keys/k.pub"}, s3Calls)

	_, err = r.Fetch(ctx, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestResolver_S3WithoutClient(t *testing.T) {
	_, err := NewResolver(nil).Fetch(context.Background(), "s3://b/k")
	assert.Error(t, err)
}

func TestNeedsS3(t *testing.T) {
	assert.False(t, NeedsS3(Config{Pairs: []Pair{{PublicKey: "/a.pub"}}}))
	assert.True(t, NeedsS3(Config{Pairs: []Pair{{PublicKey: "/a.pub", PrivateKey: "s3://b/a.pem"}}}))
}

func TestParseS3Location(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{in: "s3://keys/prod/k1.pem", bucket: "keys", key: "prod/k1.pem"},
		{in: "s3://keys/", wantErr: true},
		{in: "s3:///k", wantErr: true},
		{in: "/local/path", wantErr: true},
	}
	for _, tt := range tests {
		b, k, err := parseS3Location(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, b)
		assert.Equal(t, tt.key, k)
	}
}

type fakeGetter struct {
	in   *s3.GetObjectInput
	body string
	err  error
}

func (f *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(f.body))}, nil
}

func TestS3Fetcher_Fetch(t *testing.T) {
	g := &fakeGetter{body: "pem-bytes"}
	f := &S3Fetcher{client: g}

	got, err := f.Fetch(context.Background(), "s3://vault/signing/k1.pem")
	require.NoError(t, err)
	assert.Equal(t, "pem-bytes", string(got))
	assert.Equal(t, "vault", aws.ToString(g.in.Bucket))
	assert.Equal(t, "signing/k1.pem", aws.ToString(g.in.Key))

	g.err = errors.New("access denied")
	_, err = f.Fetch(context.Background(), "s3://vault/signing/k1.pem")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "s3://vault")
	assert.Error(t, err)
}

func TestNewS3Fetcher_AppliesOptions(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		assert.NotNil(t, lo.Credentials, "static credentials expected")
		return aws.Config{}, nil
	}

	var endpoint string
	var pathStyle bool
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var o s3.Options
		for _, fn := range optFns {
			fn(&o)
		}
		endpoint = aws.ToString(o.BaseEndpoint)
		pathStyle = o.UsePathStyle
		return &s3.Client{}
	}

	f, err := NewS3Fetcher(context.Background(), S3Options{
		Region:    "eu-central-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "http://127.0.0.1:9000", endpoint)
	assert.True(t, pathStyle)
}

func TestNewS3Fetcher_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no region")
	}

	_, err := NewS3Fetcher(context.Background(), S3Options{})
	assert.Error(t, err)
}
