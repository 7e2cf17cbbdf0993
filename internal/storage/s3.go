package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftwatch/driftwatch/internal/util"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/segment"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

// segmentPrefix is the object key prefix under which committed segments
// live: segments/<flattened-id>/documents.dat etc.
const segmentPrefix = "segments/"

// SegmentStore is an object-store backed segment.Store. Discover lists
// committed segments by prefix; EnsureLocal downloads a segment's files
// into a local cache directory once and serves from there afterwards.
type SegmentStore struct {
	client   *s3.Client
	bucket   string
	cacheDir string
}

func NewSegmentStore(client *s3.Client, cacheDir string) *SegmentStore {
	return &SegmentStore{
		client:   client,
		bucket:   util.GetEnvString("AWS_BUCKET", "driftwatch"),
		cacheDir: cacheDir,
	}
}

// Discover lists object keys under the segment prefix; every directory
// holding a documents.dat object is one committed segment.
func (s *SegmentStore) Discover(ctx context.Context) ([]string, error) {
	keys, err := ListFilesWithPrefix(ctx, s.client, s.bucket, segmentPrefix)
	if err != nil {
		return nil, fmt.Errorf("discover segments: %w", err)
	}
	var ids []string
	for _, key := range keys {
		if filepath.Base(key) != segment.DocumentsFile {
			continue
		}
		flat := strings.TrimPrefix(filepath.Dir(key), segmentPrefix)
		ids = append(ids, segment.Unflatten(flat))
	}
	return ids, nil
}

// EnsureLocal downloads the segment's files into the cache unless a
// complete copy is already present.
func (s *SegmentStore) EnsureLocal(ctx context.Context, segmentID string) (string, error) {
	dir := filepath.Join(s.cacheDir, "segments", segment.Flatten(segmentID))
	if _, err := os.Stat(filepath.Join(dir, segment.DocumentsFile)); err == nil {
		return dir, nil
	}

	prefix := segmentPrefix + segment.Flatten(segmentID) + "/"
	keys, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) ([]string, error) {
		return ListFilesWithPrefix(ctx, s.client, s.bucket, prefix)
	})
	if err != nil {
		return "", fmt.Errorf("list segment %s: %w", segmentID, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("segment %s not found in bucket %s", segmentID, s.bucket)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, key := range keys {
		data, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) ([]byte, error) {
			return GetFile(ctx, s.client, s.bucket, key)
		})
		if err != nil {
			return "", fmt.Errorf("download %s: %w", key, err)
		}
		local := filepath.Join(dir, filepath.Base(key))
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", local, err)
		}
	}
	logger.Info("[Storage] Segment cached locally", "segment", segmentID, "files", len(keys))
	return dir, nil
}

// RemoveRemote deletes a segment's objects from the bucket.
func (s *SegmentStore) RemoveRemote(ctx context.Context, segmentID string) error {
	prefix := segmentPrefix + segment.Flatten(segmentID) + "/"
	return DeleteFolder(ctx, s.client, s.bucket, prefix)
}

// RemoveCached drops the local cache copy of a segment.
func (s *SegmentStore) RemoveCached(segmentID string) error {
	return os.RemoveAll(filepath.Join(s.cacheDir, "segments", segment.Flatten(segmentID)))
}

func GetFile(ctx context.Context, client *s3.Client, bucket string, key string) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %v", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %v", err)
	}

	return buf.Bytes(), nil
}

func PutFile(ctx context.Context, client *s3.Client, bucket string, key string, file io.ReadSeeker) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %v", err)
	}
	return nil
}

func DeleteFolder(ctx context.Context, client *s3.Client, bucket string, prefix string) error {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("failed to list objects in folder %s: %w", prefix, err)
		}

		if len(listOutput.Contents) == 0 {
			break
		}

		var objectsToDelete []types.ObjectIdentifier
		for _, obj := range listOutput.Contents {
			objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{
				Key: obj.Key,
			})
		}

		_, err = client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: objectsToDelete,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects in folder %s: %w", prefix, err)
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return nil
}

func ListFilesWithPrefix(ctx context.Context, client *s3.Client, bucket string, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
