package config

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vango-dev/tether/internal/errors"
)

// maxObjectSize bounds how much of an S3 object is read.
const maxObjectSize = 1 << 20

// ObjectGetter is the subset of *s3.Client used to fetch config objects.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// IsS3URI reports whether uri has the s3:// scheme.
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return "", "", errors.New("T104").
			WithDetail("Expected s3://bucket/key, got " + uri + ".")
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// LoadS3 fetches a JSON or TOML object, chosen by the key's extension.
func LoadS3(ctx context.Context, api ObjectGetter, bucket, key string) (*Config, error) {
	format, err := FormatFromPath(key)
	if err != nil {
		return nil, err
	}
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.New("T104").Wrap(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return nil, errors.New("T104").Wrap(err)
	}
	if len(data) > maxObjectSize {
		return nil, errors.New("T104").WithDetail("Config object is larger than 1 MiB.")
	}
	return Parse(data, format, "s3://"+path.Join(bucket, key))
}

// NewS3Client builds a client from the standard AWS environment variables:
// AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN
// and, for S3-compatible stores, AWS_ENDPOINT_URL_S3.
func NewS3Client() *s3.Client {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
					SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
					SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
					Source:          "environment",
				}, nil
			})),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL_S3"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// LoadURI loads from a local path or an s3:// URI. api may be nil, in
// which case an environment-configured client is built on demand.
func LoadURI(ctx context.Context, uri string, api ObjectGetter) (*Config, error) {
	if !IsS3URI(uri) {
		return Load(uri)
	}
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if api == nil {
		api = NewS3Client()
	}
	return LoadS3(ctx, api, bucket, key)
}
