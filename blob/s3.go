package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// partSize is the multipart upload part size (S3 minimum is 5 MiB).
const partSize = 8 * 1024 * 1024

// S3Config holds configuration for one S3-backed store instance.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// S3Store implements Store over an S3 bucket and optional key prefix.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewS3Store creates a store using the AWS SDK default credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  NormalizePrefix(cfg.Prefix),
	}, nil
}

func (s *S3Store) fullKey(key string) string { return JoinKey(s.prefix, key) }

// stripPrefix converts an absolute bucket key back to a store-relative key.
func (s *S3Store) stripPrefix(key string) string {
	if s.prefix == "" {
		return key
	}
	rel, ok := cutPrefix(key, s.prefix+"/")
	if !ok {
		return key
	}
	return rel
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

// List returns one page of keys under prefix in lexicographic order.
func (s *S3Store) List(ctx context.Context, prefix string, pageSize int32, continuationToken string) (*ListPage, error) {
	if pageSize <= 0 || pageSize > MaxListPageSize {
		pageSize = MaxListPageSize
	}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.fullKey(prefix)),
		MaxKeys: aws.Int32(pageSize),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, wrapError(err, "list", prefix)
	}

	page := &ListPage{
		Items:       make([]ObjectInfo, 0, len(out.Contents)),
		IsTruncated: aws.ToBool(out.IsTruncated),
		NextToken:   aws.ToString(out.NextContinuationToken),
	}
	for _, obj := range out.Contents {
		page.Items = append(page.Items, ObjectInfo{
			Key:          s.stripPrefix(aws.ToString(obj.Key)),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return page, nil
}

// Exists reports whether the key is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Head returns object metadata, or a NotFound storage error.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, wrapError(err, "head", key)
	}
	return &ObjectMeta{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         aws.ToString(out.ETag),
			LastModified: aws.ToTime(out.LastModified),
		},
		ContentType:  aws.ToString(out.ContentType),
		UserMetadata: out.Metadata,
	}, nil
}

// Download opens the object for reading.
func (s *S3Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return nil, wrapError(err, "download", key)
	}
	return out.Body, nil
}

// Upload stores the reader's content under key in one call.
func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, contentType string, userMetadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.fullKey(key)),
		Body:     r,
		Metadata: userMetadata,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, input)
	return wrapError(err, "upload", key)
}

// OpenWrite returns a multipart upload writer. The object becomes
// visible only after a successful Close.
func (s *S3Store) OpenWrite(ctx context.Context, key, contentType string, userMetadata map[string]string) (io.WriteCloser, error) {
	return &multipartWriter{
		ctx:         ctx,
		store:       s,
		key:         key,
		contentType: contentType,
		metadata:    userMetadata,
		buf:         bytes.NewBuffer(make([]byte, 0, partSize)),
	}, nil
}

// SetMetadata replaces the object's user metadata via copy-with-replace.
func (s *S3Store) SetMetadata(ctx context.Context, key string, userMetadata map[string]string) error {
	full := s.fullKey(key)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(full),
		CopySource:        aws.String(s.bucket + "/" + full),
		Metadata:          userMetadata,
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	return wrapError(err, "set-metadata", key)
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	return wrapError(err, "delete", key)
}

// PresignGet returns a time-limited download URL.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", wrapError(err, "presign", key)
	}
	return req.URL, nil
}

// multipartWriter streams writes to S3 as a multipart upload. Payloads
// that fit in a single part are stored with a plain PutObject instead.
type multipartWriter struct {
	ctx         context.Context
	store       *S3Store
	key         string
	contentType string
	metadata    map[string]string

	mu       sync.Mutex
	buf      *bytes.Buffer
	uploadID string
	parts    []s3types.CompletedPart
	partNum  int32
	closed   bool
}

func (w *multipartWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("write after close")
	}
	n, _ := w.buf.Write(p)
	for w.buf.Len() >= partSize {
		if err := w.flushPart(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// flushPart uploads exactly one partSize chunk from the buffer.
func (w *multipartWriter) flushPart() error {
	if w.uploadID == "" {
		if err := w.begin(); err != nil {
			return err
		}
	}
	chunk := w.buf.Next(partSize)
	return w.uploadPart(chunk)
}

func (w *multipartWriter) begin() error {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.store.fullKey(w.key)),
		Metadata: w.metadata,
	}
	if w.contentType != "" {
		input.ContentType = aws.String(w.contentType)
	}
	out, err := w.store.client.CreateMultipartUpload(w.ctx, input)
	if err != nil {
		return wrapError(err, "multipart-create", w.key)
	}
	w.uploadID = aws.ToString(out.UploadId)
	return nil
}

func (w *multipartWriter) uploadPart(data []byte) error {
	w.partNum++
	out, err := w.store.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.store.bucket),
		Key:        aws.String(w.store.fullKey(w.key)),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.partNum),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		w.abort()
		return wrapError(err, "multipart-part", w.key)
	}
	w.parts = append(w.parts, s3types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(w.partNum),
	})
	return nil
}

func (w *multipartWriter) abort() {
	if w.uploadID == "" {
		return
	}
	_, _ = w.store.client.AbortMultipartUpload(w.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.store.fullKey(w.key)),
		UploadId: aws.String(w.uploadID),
	})
}

// Close uploads any buffered remainder and finalizes the object.
func (w *multipartWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	// Small payload: never started multipart, single PutObject suffices.
	if w.uploadID == "" {
		return w.store.Upload(w.ctx, w.key, bytes.NewReader(w.buf.Bytes()), w.contentType, w.metadata)
	}

	if w.buf.Len() > 0 {
		if err := w.uploadPart(w.buf.Bytes()); err != nil {
			return err
		}
		w.buf.Reset()
	}

	_, err := w.store.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.store.bucket),
		Key:             aws.String(w.store.fullKey(w.key)),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.abort()
		return wrapError(err, "multipart-complete", w.key)
	}
	return nil
}

// Verify S3Store implements Store.
var _ Store = (*S3Store)(nil)
