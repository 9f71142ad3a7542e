package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Dumper persists exercise reports, one JSON document per line.
type Dumper interface {
	Dump(ctx context.Context, rep *ExerciseReport) error
	Close(ctx context.Context) error
}

type fileDumper struct {
	f *os.File
}

// NewFileDumper appends reports to the file at path, creating parent directories as needed.
func NewFileDumper(path string) (Dumper, error) {
	err := os.MkdirAll(filepath.Dir(path), fs.ModePerm)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results file failed: %w", err)
	}
	return &fileDumper{f: f}, nil
}

func (d *fileDumper) Dump(_ context.Context, rep *ExerciseReport) error {
	buf, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = d.f.Write(append(buf, '\n'))
	return err
}

func (d *fileDumper) Close(context.Context) error {
	return d.f.Close()
}

type s3Dumper struct {
	uploader *manager.Uploader
	bucket   string
	key      string
	buf      bytes.Buffer
}

// NewS3Dumper buffers reports and uploads them as a single JSON lines object on Close.
func NewS3Dumper(client *s3.Client, bucket, key string) Dumper {
	return &s3Dumper{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		key:      key,
	}
}

func (d *s3Dumper) Dump(_ context.Context, rep *ExerciseReport) error {
	buf, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	d.buf.Write(buf)
	d.buf.WriteByte('\n')
	return nil
}

func (d *s3Dumper) Close(ctx context.Context) error {
	if d.buf.Len() == 0 {
		return nil
	}
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Body:   bytes.NewReader(d.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading results failed: %w", err)
	}
	slog.Debug("uploaded results", slog.String("bucket", d.bucket), slog.String("key", d.key))
	return nil
}
