package objectstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"flowtrack/internal/config"
)

// User metadata keys. S3 lower-cases keys on read.
const (
	metaFilename = "filename"
	metaFolder   = "folder"
	metaStatus   = "flowtrack-status"
	s3Timeout    = 60 * time.Second
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps artifacts in an S3-compatible bucket under
// <prefix>/<folder>/<id>. The status document lives in user metadata,
// base64-encoded because S3 metadata values must be ASCII.
type S3Store struct {
	client  s3API
	bucket  string
	prefix  string
	folders []string
}

// NewS3Store builds a store from configuration. folders lists every folder the
// store will be asked to resolve ids in.
func NewS3Store(ctx context.Context, cfg config.S3, folders []string) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("objectstore: s3 bucket required")
	}
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Store(client, cfg.Bucket, cfg.Prefix, folders), nil
}

func newS3Store(client s3API, bucket, prefix string, folders []string) *S3Store {
	cleaned := make([]string, 0, len(folders))
	seen := make(map[string]struct{}, len(folders))
	for _, folder := range folders {
		if f, err := validateFolder(folder); err == nil {
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				cleaned = append(cleaned, f)
			}
		}
	}
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		folders: cleaned,
	}
}

func buildAWSConfig(ctx context.Context, cfg config.S3) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{Timeout: s3Timeout}))
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) key(folder, id string) string {
	if s.prefix == "" {
		return path.Join(folder, id)
	}
	return path.Join(s.prefix, folder, id)
}

func (s *S3Store) folderPrefix(folder string) string {
	return s.key(folder, "") + "/"
}

// Upload stores data under folder and returns the new object id.
func (s *S3Store) Upload(ctx context.Context, data []byte, folder, name string) (string, error) {
	folder, err := validateFolder(folder)
	if err != nil {
		return "", err
	}
	id := newObjectID()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(folder, id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(name)),
		Metadata: map[string]string{
			metaFilename: asciiOnly(sanitizeName(name)),
			metaFolder:   folder,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return id, nil
}

// Download returns the object's content.
func (s *S3Store) Download(ctx context.Context, id string) ([]byte, error) {
	key, _, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// SetMetadata rewrites the object's user metadata in place with a
// self-copy using the REPLACE directive.
func (s *S3Store) SetMetadata(ctx context.Context, id string, metadata []byte) error {
	key, head, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	meta := make(map[string]string, len(head.Metadata)+1)
	for k, v := range head.Metadata {
		meta[strings.ToLower(k)] = v
	}
	if len(metadata) == 0 {
		delete(meta, metaStatus)
	} else {
		meta[metaStatus] = base64.StdEncoding.EncodeToString(metadata)
	}
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(s.bucket, key)),
		MetadataDirective: s3types.MetadataDirectiveReplace,
		Metadata:          meta,
	}
	if head.ContentType != nil {
		input.ContentType = head.ContentType
	}
	if _, err := s.client.CopyObject(ctx, input); err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return fmt.Errorf("copy object metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the object's status document, or nil when none was set.
func (s *S3Store) GetMetadata(ctx context.Context, id string) ([]byte, error) {
	_, head, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	encoded, ok := lookupMeta(head.Metadata, metaStatus)
	if !ok || encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
	}
	return data, nil
}

// Exists reports whether id resolves to an object in a known folder.
func (s *S3Store) Exists(ctx context.Context, id string) (bool, error) {
	_, _, err := s.resolve(ctx, id)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the objects in folder ordered by creation time. Metadata
// presence requires a HEAD per object.
func (s *S3Store) List(ctx context.Context, folder string) ([]Object, error) {
	folder, err := validateFolder(folder)
	if err != nil {
		return nil, err
	}
	prefix := s.folderPrefix(folder)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, item := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(item.Key), prefix)
			if !validID(id) {
				continue
			}
			obj := Object{
				ID:        id,
				Folder:    folder,
				Name:      id,
				Size:      aws.ToInt64(item.Size),
				CreatedAt: aws.ToTime(item.LastModified),
			}
			head, err := s.head(ctx, aws.ToString(item.Key))
			if err != nil && !isNotFoundError(err) {
				return nil, fmt.Errorf("head object %s: %w", id, err)
			}
			if head != nil {
				if name, ok := lookupMeta(head.Metadata, metaFilename); ok && name != "" {
					obj.Name = name
				}
				status, ok := lookupMeta(head.Metadata, metaStatus)
				obj.HasMetadata = ok && status != ""
			}
			objects = append(objects, obj)
		}
	}
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].CreatedAt.Before(objects[j].CreatedAt)
	})
	return objects, nil
}

// resolve finds the key holding id by probing each known folder.
func (s *S3Store) resolve(ctx context.Context, id string) (string, *s3.HeadObjectOutput, error) {
	id = strings.TrimSpace(id)
	if !validID(id) {
		return "", nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	for _, folder := range s.folders {
		key := s.key(folder, id)
		head, err := s.head(ctx, key)
		if err == nil {
			return key, head, nil
		}
		if !isNotFoundError(err) {
			return "", nil, fmt.Errorf("head object: %w", err)
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
}

func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nse *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nse)
}

func lookupMeta(meta map[string]string, key string) (string, bool) {
	if v, ok := meta[key]; ok {
		return v, true
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func copySource(bucket, key string) string {
	return url.PathEscape(bucket) + "/" + (&url.URL{Path: key}).EscapedPath()
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func asciiOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
