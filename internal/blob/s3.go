package blob

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tgrelay/internal/domain"
)

type putAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Store struct {
	Bucket    string
	client    putAPI
	presigner presignAPI
}

func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{Bucket: bucket, client: client, presigner: s3.NewPresignClient(client)}
}

func (s *S3Store) Put(ctx context.Context, data []byte, prefix, filename string) (domain.BlobRef, error) {
	key := ObjectKey(prefix, filename)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if filename != "" {
		in.ContentDisposition = aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return domain.BlobRef{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return domain.BlobRef{Bucket: s.Bucket, Key: key, Filename: filename}, nil
}

func (s *S3Store) PresignedGetURL(ctx context.Context, ref domain.BlobRef, ttl time.Duration) (string, error) {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = s.Bucket
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ref.Key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", ref.Key, err)
	}
	return req.URL, nil
}
