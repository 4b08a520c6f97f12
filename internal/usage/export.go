package usage

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"moxie_companion/internal/models"
	"moxie_companion/internal/utils"
)

var csvHeader = []string{"Date", "Time", "Child", "Feature", "Model", "Tokens", "Cost", "Duration"}

// ExportCSV writes records as CSV with one header row.
func ExportCSV(w io.Writer, records []models.UsageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for i := range records {
		r := &records[i]
		row := []string{
			r.Timestamp.Format("2006-01-02"),
			r.Timestamp.Format("15:04:05"),
			r.ChildProfileID,
			string(r.Feature),
			r.Model,
			strconv.Itoa(r.TokensUsed),
			strconv.FormatFloat(r.EstimatedCost, 'f', -1, 64),
			strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFilename is the download name for an export taken at t
func ExportFilename(t time.Time) string {
	return "usage_export_" + t.Format("20060102_150405") + ".csv"
}

// Archiver stores a CSV export somewhere durable and returns its location.
type Archiver interface {
	Archive(ctx context.Context, records []models.UsageRecord) (string, error)
}

// S3ArchiverConfig configures S3Archiver. Endpoint and the static key pair
// are only needed for S3-compatible stores such as MinIO.
type S3ArchiverConfig struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads CSV exports to S3
type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *utils.Logger
	now    func() time.Time
}

// NewS3Archiver creates a new S3 archiver
func NewS3Archiver(ctx context.Context, cfg S3ArchiverConfig) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(client putObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: utils.NewLogger("usage-archiver"),
		now:    time.Now,
	}
}

// Archive uploads records as one CSV object and returns its key
func (a *S3Archiver) Archive(ctx context.Context, records []models.UsageRecord) (string, error) {
	var buf bytes.Buffer
	if err := ExportCSV(&buf, records); err != nil {
		return "", err
	}

	// Format: usage/2025/11/30/usage-20251130-143022.csv
	now := a.now()
	key := fmt.Sprintf("%s%04d/%02d/%02d/usage-%s.csv",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		now.Format("20060102-150405"),
	)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived usage export", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
