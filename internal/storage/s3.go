// Package storage はレンダリング成果物のオブジェクトストレージへの保存を提供する。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter はS3へのオブジェクト書き込みのインターフェース。
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner は署名付きURL生成のインターフェース。
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options はS3接続設定。
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string // MinIO等のS3互換ストレージ用。空の場合はAWSのエンドポイント
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	PresignTTL      time.Duration
}

// S3Store はS3互換ストレージに成果物を保存する。
type S3Store struct {
	client        ObjectPutter
	presigner     ObjectPresigner
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
}

// NewS3Store はクライアントを指定してS3Storeを生成する。
func NewS3Store(client ObjectPutter, presigner ObjectPresigner, bucket, publicBaseURL string, presignTTL time.Duration) *S3Store {
	return &S3Store{
		client:        client,
		presigner:     presigner,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		presignTTL:    presignTTL,
	}
}

// Open は設定からS3クライアントを構築してS3Storeを生成する。
// アクセスキーが指定されていない場合はAWSのデフォルト認証チェーンを使用する。
func Open(ctx context.Context, opts Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("S3設定の読み込みに失敗: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Store(client, s3.NewPresignClient(client), opts.Bucket, opts.PublicBaseURL, opts.PresignTTL), nil
}

// ObjectKey はエクスポート成果物のオブジェクトキーを返す。
func ObjectKey(userID, jobID, ext string) string {
	return fmt.Sprintf("exports/%s/%s.%s", userID, jobID, ext)
}

// Put はオブジェクトを保存し、成果物のURLを返す。
// PublicBaseURLが設定されている場合はその配下のURL、それ以外はs3://形式のURLを返す。
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("オブジェクトの保存に失敗: %w", err)
	}
	return s.URL(key), nil
}

// URL はオブジェクトキーに対応する成果物URLを返す。
func (s *S3Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return "s3://" + s.bucket + "/" + key
}

// PresignGet はダウンロード用の署名付きURLを生成する。
func (s *S3Store) PresignGet(ctx context.Context, key, filename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("署名付きURLの生成に失敗: %w", err)
	}
	return req.URL, nil
}
