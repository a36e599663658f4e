package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxBatchBytes bounds the size of one record batch object.
const maxBatchBytes = 256 << 20

// S3RecordFileLoader loads record batches from an S3 bucket. It works with
// S3 compatible stores such as MinIO through a custom endpoint.
type S3RecordFileLoader struct {
	bucket string
	client *s3.Client
}

// NewS3RecordFileLoaderWithClient reuses a preconfigured client.
func NewS3RecordFileLoaderWithClient(bucket string, client *s3.Client) *S3RecordFileLoader {
	return &S3RecordFileLoader{
		bucket: bucket,
		client: client,
	}
}

// NewS3RecordFileLoaderParams defines the configuration parameters for
// creating a new S3RecordFileLoader.
//
// Endpoint overrides the S3 endpoint and switches to path-style addressing,
// which S3 compatible stores expect. AccessKey and SecretKey provide static
// credentials; when both are empty the default AWS credential chain is used.
type NewS3RecordFileLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3RecordFileLoader creates a new S3RecordFileLoader.
//
// Example:
//
//	l, err := s3.NewS3RecordFileLoader(ctx, s3.NewS3RecordFileLoaderParams{
//		Bucket:    "clinical-records",
//		Endpoint:  "http://minio:9000",
//		Region:    "us-east-1",
//		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
//		SecretKey: os.Getenv("AWS_SECRET_KEY"),
//	})
func NewS3RecordFileLoader(ctx context.Context, params NewS3RecordFileLoaderParams) (*S3RecordFileLoader, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("s3 record loader needs a bucket")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	if params.AccessKey != "" || params.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = params.Endpoint != ""
	})

	return NewS3RecordFileLoaderWithClient(params.Bucket, client), nil
}

// GetFile downloads the object at filePath.
func (l *S3RecordFileLoader) GetFile(ctx context.Context, filePath string) ([]byte, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(filePath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from S3: %w", filePath, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	n, err := io.Copy(buf, io.LimitReader(out.Body, maxBatchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if n > maxBatchBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", filePath, maxBatchBytes)
	}

	return buf.Bytes(), nil
}
