package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"campuscoin/internal/logger"
)

// S3 stores objects in a bucket under a key prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3(ctx context.Context, opts Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage: S3 bucket must not be empty")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	logger.Default().Debugln("storage: S3 enabled for bucket", opts.Bucket)
	return &S3{client: s3.NewFromConfig(cfg), bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *S3) Put(ctx context.Context, obj Object) error {
	if err := checkKey(obj.Key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + obj.Key),
		Body:        bytes.NewReader(obj.Data),
		ContentType: aws.String(obj.ContentType),
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", obj.Key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (Object, error) {
	if err := checkKey(key); err != nil {
		return Object{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("storage: download %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return Object{Key: key, ContentType: aws.ToString(out.ContentType), Data: data}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("storage: could not delete", s.prefix+key)
		return err
	}
	return nil
}
