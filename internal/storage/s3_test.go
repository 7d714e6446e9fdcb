package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type mockPutter struct {
	putFn func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (m *mockPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putFn(ctx, params)
}

type mockPresigner struct {
	presignFn func(ctx context.Context, params *s3.GetObjectInput, opts *s3.PresignOptions) (*v4.PresignedHTTPRequest, error)
}

func (m *mockPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	return m.presignFn(ctx, params, opts)
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("user-1", "job-1", "png")
	if got != "exports/user-1/job-1.png" {
		t.Errorf("ObjectKey = %q", got)
	}
}

func TestS3Store_Put(t *testing.T) {
	var captured *s3.PutObjectInput
	var body []byte
	putter := &mockPutter{
		putFn: func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			captured = params
			body, _ = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{}, nil
		},
	}
	store := NewS3Store(putter, nil, "designs", "https://cdn.example.com/", time.Minute)

	url, err := store.Put(context.Background(), "exports/u/j.png", "image/png", []byte("data"))
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if url != "https://cdn.example.com/exports/u/j.png" {
		t.Errorf("url = %q", url)
	}
	if aws.ToString(captured.Bucket) != "designs" || aws.ToString(captured.Key) != "exports/u/j.png" {
		t.Errorf("bucket/key = %s/%s", aws.ToString(captured.Bucket), aws.ToString(captured.Key))
	}
	if aws.ToString(captured.ContentType) != "image/png" {
		t.Errorf("ContentType = %s", aws.ToString(captured.ContentType))
	}
	if string(body) != "data" {
		t.Errorf("body = %q", body)
	}
}

func TestS3Store_Put_Error(t *testing.T) {
	putter := &mockPutter{
		putFn: func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}
	store := NewS3Store(putter, nil, "designs", "", time.Minute)
	if _, err := store.Put(context.Background(), "k", "image/png", nil); err == nil {
		t.Error("expected error")
	}
}

func TestS3Store_URL_WithoutPublicBase(t *testing.T) {
	store := NewS3Store(nil, nil, "designs", "", time.Minute)
	if got := store.URL("exports/u/j.pdf"); got != "s3://designs/exports/u/j.pdf" {
		t.Errorf("URL = %q", got)
	}
}

func TestS3Store_PresignGet(t *testing.T) {
	presigner := &mockPresigner{
		presignFn: func(ctx context.Context, params *s3.GetObjectInput, opts *s3.PresignOptions) (*v4.PresignedHTTPRequest, error) {
			if opts.Expires != 15*time.Minute {
				t.Errorf("Expires = %v, want 15m", opts.Expires)
			}
			if !strings.Contains(aws.ToString(params.ResponseContentDisposition), "card.png") {
				t.Errorf("ResponseContentDisposition = %q", aws.ToString(params.ResponseContentDisposition))
			}
			return &v4.PresignedHTTPRequest{URL: "https://s3.example.com/signed"}, nil
		},
	}
	store := NewS3Store(nil, presigner, "designs", "", 15*time.Minute)

	url, err := store.PresignGet(context.Background(), "exports/u/j.png", "card.png")
	if err != nil {
		t.Fatalf("PresignGet returned error: %v", err)
	}
	if url != "https://s3.example.com/signed" {
		t.Errorf("url = %q", url)
	}
}
