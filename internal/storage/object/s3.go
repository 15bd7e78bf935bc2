package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config S3 对象存储配置
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // 可选，MinIO / LocalStack 等自定义端点
	Prefix   string // 可选，键前缀
}

// S3Store 以单个 bucket 承载全部容器：键为 prefix + container + "/" + name
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store 创建 S3 对象存储
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket 未配置")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(container, name string) string {
	return s.prefix + container + "/" + name
}

// Put 写入对象
func (s *S3Store) Put(ctx context.Context, container, name string, data []byte, overwrite bool) error {
	if !overwrite {
		ok, err := s.Exists(ctx, container, name)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%s/%s: %w", container, name, ErrExists)
		}
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(container, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed for %s/%s: %w", container, name, err)
	}
	return nil
}

// Get 读取对象
func (s *S3Store) Get(ctx context.Context, container, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(container, name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s/%s: %w", container, name, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get failed for %s/%s: %w", container, name, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// Exists 检查对象是否存在
func (s *S3Store) Exists(ctx context.Context, container, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(container, name)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head failed for %s/%s: %w", container, name, err)
}

// List 列出容器内对象
func (s *S3Store) List(ctx context.Context, container string) ([]*ObjectInfo, error) {
	prefix := s.key(container, "")
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var results []*ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed for %s: %w", container, err)
		}
		for _, o := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(o.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			info := &ObjectInfo{Container: container, Name: name, Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				info.ModifiedAt = *o.LastModified
			}
			results = append(results, info)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// Delete 删除对象
func (s *S3Store) Delete(ctx context.Context, container, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(container, name)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for %s/%s: %w", container, name, err)
	}
	return nil
}

// Close S3 客户端无需关闭
func (s *S3Store) Close() error {
	return nil
}
