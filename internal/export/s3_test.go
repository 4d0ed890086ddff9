package export

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	api := &fakeS3{}
	d := newS3Destination(api, "snapshots", "")
	data := []byte("{\"type\":\"header\"}\n")

	if err := d.Write(context.Background(), data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if aws.ToString(api.in.Bucket) != "snapshots" || aws.ToString(api.in.Key) != DefaultS3Key {
		t.Errorf("put %s/%s", aws.ToString(api.in.Bucket), aws.ToString(api.in.Key))
	}
	if aws.ToString(api.in.ContentType) != "application/x-ndjson" {
		t.Errorf("content type = %s", aws.ToString(api.in.ContentType))
	}
	if aws.ToInt64(api.in.ContentLength) != int64(len(data)) || string(api.body) != string(data) {
		t.Errorf("body = %q (length %d)", api.body, aws.ToInt64(api.in.ContentLength))
	}
}

func TestS3Destination_WriteError(t *testing.T) {
	boom := errors.New("access denied")
	d := newS3Destination(&fakeS3{err: boom}, "snapshots", "custom/key.jsonl")
	err := d.Write(context.Background(), []byte("x"))
	if !errors.Is(err, boom) {
		t.Fatalf("Write() = %v, want wrapped %v", err, boom)
	}
}
