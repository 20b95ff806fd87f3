package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/logging"
)

// S3Store is a Store backed by an S3-compatible bucket (R2, in
// production). Multipart upload is driven with raw CreateMultipartUpload/
// UploadPart/CompleteMultipartUpload/AbortMultipartUpload calls rather
// than the SDK's s3manager.Uploader, because the pipeline needs explicit
// control over part numbering (spec.md §4.D).
type S3Store struct {
	client *s3.Client
	bucket string
	log    *logging.FieldLogger
}

// NewS3Store wraps an already-configured s3.Client.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		log:    logging.Global().WithField("component", "blobstore.s3"),
	}
}

func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if length > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	} else if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("key %q not found", key)
		}
		return nil, apperr.UpstreamError(err, "get object %q", key)
	}
	return out.Body, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (*Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound("key %q not found", key)
		}
		return nil, apperr.UpstreamError(err, "head object %q", key)
	}

	info := &Info{Key: key}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ETag != nil {
		info.ETag = *out.ETag
	}
	return info, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return apperr.UpstreamError(err, "put object %q", key)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return apperr.UpstreamError(err, "delete %d objects", len(keys))
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, apperr.UpstreamError(err, "list prefix %q", prefix)
	}

	page := &ListPage{}
	for _, obj := range out.Contents {
		info := Info{}
		if obj.Key != nil {
			info.Key = *obj.Key
		}
		if obj.Size != nil {
			info.Size = *obj.Size
		}
		if obj.ETag != nil {
			info.ETag = *obj.ETag
		}
		page.Keys = append(page.Keys, info)
	}
	if out.NextContinuationToken != nil {
		page.NextCursor = *out.NextContinuationToken
	}
	return page, nil
}

func (s *S3Store) Multipart(ctx context.Context, key string) (UploadHandle, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperr.UpstreamError(err, "create multipart upload for %q", key)
	}
	return &s3UploadHandle{
		client:   s.client,
		bucket:   s.bucket,
		key:      key,
		uploadID: aws.ToString(out.UploadId),
	}, nil
}

type s3UploadHandle struct {
	client   *s3.Client
	bucket   string
	key      string
	uploadID string
}

func (h *s3UploadHandle) Key() string { return h.key }

func (h *s3UploadHandle) UploadPart(ctx context.Context, partNumber int, data []byte) (string, error) {
	out, err := h.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(h.bucket),
		Key:        aws.String(h.key),
		UploadId:   aws.String(h.uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", apperr.UpstreamError(err, "upload part %d of %q", partNumber, h.key)
	}
	return aws.ToString(out.ETag), nil
}

func (h *s3UploadHandle) Complete(ctx context.Context, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}
	_, err := h.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(h.bucket),
		Key:             aws.String(h.key),
		UploadId:        aws.String(h.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return apperr.UpstreamError(err, "complete multipart upload for %q", h.key)
	}
	return nil
}

func (h *s3UploadHandle) Abort(ctx context.Context) error {
	_, err := h.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(h.bucket),
		Key:      aws.String(h.key),
		UploadId: aws.String(h.uploadID),
	})
	if err != nil {
		return apperr.UpstreamError(err, "abort multipart upload for %q", h.key)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var nfb *types.NotFound
	return errors.As(err, &nfb)
}
