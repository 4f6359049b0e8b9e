package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds explicit construction parameters. Credentials fall back to
// the default AWS chain unless a static key pair is supplied (useful for
// MinIO-style endpoints).
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// S3 archives reports in a single bucket, one object per key.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed archiver from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// OpenS3FromEnv constructs an S3 archiver from process environment:
//
//	UPSERTCORE_REPORT_S3_BUCKET (required)
//	UPSERTCORE_REPORT_S3_REGION (default us-east-1)
//	UPSERTCORE_REPORT_S3_PREFIX (optional)
//	UPSERTCORE_REPORT_S3_ENDPOINT (optional, for MinIO)
//	UPSERTCORE_REPORT_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("UPSERTCORE_REPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("UPSERTCORE_REPORT_S3_BUCKET required for s3 archiver")
	}
	return NewS3(ctx, S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("UPSERTCORE_REPORT_S3_REGION"),
		Prefix:    os.Getenv("UPSERTCORE_REPORT_S3_PREFIX"),
		Endpoint:  os.Getenv("UPSERTCORE_REPORT_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("UPSERTCORE_REPORT_S3_PATH_STYLE"), "true"),
	})
}

func (s *S3) key(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(k, ".json") {
		k += ".json"
	}
	if s.prefix != "" {
		k = s.prefix + "/" + k
	}
	return k, nil
}

func (s *S3) Put(ctx context.Context, key string, rep TrialReport) error {
	objectKey, err := s.key(key)
	if err != nil {
		return err
	}
	// Emulate create-only via Head first.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objectKey}); err == nil {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objectKey,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put report: %w", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (TrialReport, error) {
	objectKey, err := s.key(key)
	if err != nil {
		return TrialReport{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		return TrialReport{}, fmt.Errorf("get report: %w", err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return TrialReport{}, fmt.Errorf("read report body: %w", err)
	}
	var rep TrialReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return TrialReport{}, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

func (s *S3) Keys(ctx context.Context) ([]string, error) {
	var prefix *string
	if s.prefix != "" {
		p := s.prefix + "/"
		prefix = &p
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: prefix})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			k := *obj.Key
			if s.prefix != "" {
				k = strings.TrimPrefix(k, s.prefix+"/")
			}
			keys = append(keys, strings.TrimSuffix(k, ".json"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
