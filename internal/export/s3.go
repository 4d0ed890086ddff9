package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultS3Key is the object key used when none is configured.
const DefaultS3Key = "ailoop/snapshot.jsonl"

// putObjectAPI is the slice of the S3 client a destination needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination overwrites one object in an S3-compatible bucket with each
// snapshot.
type S3Destination struct {
	api    putObjectAPI
	bucket string
	key    string
}

// NewS3Destination loads AWS credentials the standard way (environment,
// shared config, instance role). A non-empty endpoint targets an
// S3-compatible server such as MinIO with path-style addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Destination(client, bucket, key), nil
}

func newS3Destination(api putObjectAPI, bucket, key string) *S3Destination {
	if key == "" {
		key = DefaultS3Key
	}
	return &S3Destination{api: api, bucket: bucket, key: key}
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", d.bucket, d.key, err)
	}
	return nil
}
