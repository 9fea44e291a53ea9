package relocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/seisworks/dlrepick/internal/model"
)

// Archiver persists the full input of a failed relocation attempt for
// offline diagnosis.
type Archiver interface {
	ArchiveFailure(ctx context.Context, eventID string, origin model.Origin, cause error) error
}

// failureDump is the serialized diagnostic envelope.
type failureDump struct {
	EventID string       `json:"eventID"`
	Cause   string       `json:"cause"`
	Ts      time.Time    `json:"ts"`
	Origin  model.Origin `json:"origin"`
}

// FileArchiver writes failure dumps under a local directory:
//
//	<dir>/<eventID>/<timestamp>.json
type FileArchiver struct {
	dir string
}

// NewFileArchiver creates an archiver rooted at dir.
func NewFileArchiver(dir string) *FileArchiver {
	return &FileArchiver{dir: dir}
}

func (f *FileArchiver) ArchiveFailure(ctx context.Context, eventID string, origin model.Origin, cause error) error {
	dump, ts, err := marshalDump(eventID, origin, cause)
	if err != nil {
		return err
	}
	dir := filepath.Join(f.dir, eventID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("relocation: create %s: %w", dir, err)
	}
	name := filepath.Join(dir, ts.Format("20060102T150405.000000000")+".json")
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, dump, 0o644); err != nil {
		return fmt.Errorf("relocation: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, name)
}

// S3Archiver uploads failure dumps to object storage at paths like:
//
//	s3://<bucket>/<prefix>/relocation-failures/YYYY/MM/DD/<eventID>-<ts>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from
// the environment (AWS_REGION, AWS_PROFILE, access keys); the prefix
// may be empty.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("relocation: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("relocation: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Archiver) ArchiveFailure(ctx context.Context, eventID string, origin model.Origin, cause error) error {
	dump, ts, err := marshalDump(eventID, origin, cause)
	if err != nil {
		return err
	}
	year, month, day := ts.Date()
	key := path.Join(s.prefix, "relocation-failures",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s-%s.json", eventID, ts.Format("150405")),
	)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(dump),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("relocation: s3 upload failed: %w", err)
	}
	return nil
}

func marshalDump(eventID string, origin model.Origin, cause error) ([]byte, time.Time, error) {
	ts := time.Now().UTC()
	b, err := json.MarshalIndent(failureDump{
		EventID: eventID,
		Cause:   cause.Error(),
		Ts:      ts,
		Origin:  origin,
	}, "", "  ")
	if err != nil {
		return nil, ts, fmt.Errorf("relocation: marshal failure dump: %w", err)
	}
	return b, ts, nil
}
