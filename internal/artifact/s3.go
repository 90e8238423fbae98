package artifact

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// PutObjectAPI is the subset of the S3 client used by S3Mirror.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads run artifacts to a bucket. Entries are gzip-compressed.
type S3Mirror struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *zap.Logger
}

// NewS3Mirror loads the default AWS configuration for region and returns a
// mirror for bucket.
func NewS3Mirror(ctx context.Context, region, bucket, prefix string, logger *zap.Logger) (*S3Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Mirror{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
		Logger: logger,
	}, nil
}

// KeyPrefix returns the object key prefix of run.
func (m *S3Mirror) KeyPrefix(run Run) string {
	return path.Join(m.Prefix, run.Label, Timestamp(run.Started))
}

// WriteRun uploads entries.ndjson.gz, summary.json and runInfo.json and
// returns the s3:// URL of the run prefix.
func (m *S3Mirror) WriteRun(ctx context.Context, run Run) (string, error) {
	base := m.KeyPrefix(run)

	entries, err := gzipRecords(run.Records)
	if err != nil {
		return "", &Error{Path: path.Join(base, EntriesFile+".gz"), Err: err}
	}
	summary, err := json.MarshalIndent(run.Summary, "", "  ")
	if err != nil {
		return "", &Error{Path: path.Join(base, SummaryFile), Err: err}
	}
	info, err := json.MarshalIndent(run.Info, "", "  ")
	if err != nil {
		return "", &Error{Path: path.Join(base, RunInfoFile), Err: err}
	}

	objects := []struct {
		key         string
		body        []byte
		contentType string
		encoding    string
	}{
		{path.Join(base, EntriesFile+".gz"), entries, "application/x-ndjson", "gzip"},
		{path.Join(base, SummaryFile), summary, "application/json", ""},
		{path.Join(base, RunInfoFile), info, "application/json", ""},
	}
	for _, o := range objects {
		in := &s3.PutObjectInput{
			Bucket:        aws.String(m.Bucket),
			Key:           aws.String(o.key),
			Body:          bytes.NewReader(o.body),
			ContentLength: aws.Int64(int64(len(o.body))),
			ContentType:   aws.String(o.contentType),
		}
		if o.encoding != "" {
			in.ContentEncoding = aws.String(o.encoding)
		}
		if _, err := m.Client.PutObject(ctx, in); err != nil {
			return "", &Error{Path: "s3://" + m.Bucket + "/" + o.key, Err: err}
		}
	}

	if m.Logger != nil {
		m.Logger.Info("run artifacts uploaded",
			zap.String("bucket", m.Bucket),
			zap.String("prefix", base))
	}
	return "s3://" + m.Bucket + "/" + base, nil
}

func gzipRecords(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	bw := bufio.NewWriter(zw)
	if err := encodeRecords(bw, records); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
