package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// s3API is the subset of the S3 client used by the source
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads documents from an S3 bucket
type S3Source struct {
	client s3API
	bucket string
}

// NewS3Source creates a document source over an S3 bucket using the
// ambient AWS configuration (environment, shared config, instance
// role).
func NewS3Source(ctx context.Context, bucket string) (*S3Source, error) {
	if bucket == "" {
		return nil, helper.NewError("open s3 source", fmt.Errorf("bucket is required"))
	}

	config, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, helper.NewError("load aws config", err)
	}

	return &S3Source{
		client: s3.NewFromConfig(config),
		bucket: bucket,
	}, nil
}

// NewS3SourceWithClient creates a document source over a pre-built
// client, used for custom endpoints and tests.
func NewS3SourceWithClient(client s3API, bucket string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
	}
}

// ListDocuments returns all object keys under the prefix, sorted for
// deterministic batch runs.
func (s *S3Source) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string

	for {
		output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, helper.NewError("list s3 documents", fmt.Errorf("%v: %w", err, helper.ErrUnavailable))
		}

		for _, object := range output.Contents {
			key := aws.ToString(object.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	sort.Strings(keys)
	return keys, nil
}

// ReadDocument downloads a single object by key
func (s *S3Source) ReadDocument(ctx context.Context, path string) (*model.Document, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, helper.NewError("read s3 document", fmt.Errorf("%v: %w", err, helper.ErrUnavailable))
	}
	defer output.Body.Close()

	content, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, helper.NewError("read s3 document", err)
	}

	return &model.Document{
		Path:    path,
		Content: string(content),
	}, nil
}
