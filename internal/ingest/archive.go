package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/modelearth/codechat/internal/vectorstore"
)

// Archiver snapshots the materialized vector set of a commit to object
// storage under archives/{repository}/{ref}.json. Archives are a recovery
// aid; the vector store remains authoritative.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an S3-backed archiver. endpoint is optional and
// enables S3-compatible services such as MinIO.
func NewArchiver(ctx context.Context, bucket, region, endpoint string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: bucket,
	}, nil
}

// archivedRecord is the wire form of one vector in an archive object.
type archivedRecord struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// Archive writes the vector set as a JSON array.
func (a *Archiver) Archive(ctx context.Context, repository, ref string, records []vectorstore.Record) error {
	out := make([]archivedRecord, len(records))
	for i, rec := range records {
		out[i] = archivedRecord{ID: rec.ID, Values: rec.Values, Metadata: rec.Metadata}
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	key := fmt.Sprintf("archives/%s/%s.json", repository, ref)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}
	return nil
}
