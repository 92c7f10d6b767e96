// Package s3 实现 S3 兼容后端 (AWS S3 / MinIO / R2 / OSS 等)。
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"uplink/pkg/provider"
	"uplink/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ID 是注册表里的后端标识符
const ID = "s3"

// 配置字段 (provider.Config 的 key)
//
//	endpoint          可选，MinIO/R2 之类的自定义端点
//	region            必填
//	bucket            必填
//	access_key_id     必填
//	secret_access_key 必填
//	url_style         可选，"path" (默认) 或 "subdomain"
//	public_domain     可选，设置后 PublicURL 直接挂该域名
//	key_prefix        可选，所有对象 key 的公共目录前缀

// UrlStyle 是公开 URL 的构造策略
// 源实现用继承链区分各家 S3 变体，这里改成组合：一个小策略接口。
type UrlStyle interface {
	PublicURL(endpoint, bucket, key string) string
}

// PathStyle: http://host/bucket/key (MinIO 必须用这种)
type PathStyle struct{}

func (PathStyle) PublicURL(endpoint, bucket, key string) string {
	return strings.TrimSuffix(endpoint, "/") + "/" + bucket + "/" + key
}

// SubdomainStyle: http://bucket.host/key (AWS 原生虚拟主机风格)
type SubdomainStyle struct{}

func (SubdomainStyle) PublicURL(endpoint, bucket, key string) string {
	scheme := "https://"
	host := endpoint
	if i := strings.Index(endpoint, "://"); i >= 0 {
		scheme = endpoint[:i+3]
		host = endpoint[i+3:]
	}
	return scheme + bucket + "." + strings.TrimSuffix(host, "/") + "/" + key
}

// Provider 实现 provider.Provider
type Provider struct {
	cfg    provider.Config
	client *awss3.Client
	style  UrlStyle
}

// New 构造 S3 后端
// 字段完整性不在这里卡 (留给 CheckConfig)；只做 SDK 客户端装配。
func New(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg["region"]),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg["access_key_id"], cfg["secret_access_key"], "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg["endpoint"] != "" {
			o.BaseEndpoint = aws.String(cfg["endpoint"])
		}
		// 自定义端点 (MinIO) 必须强制 Path Style
		// 即: http://host:9000/bucket/key，而不是 http://bucket.host:9000/key
		o.UsePathStyle = cfg["url_style"] != "subdomain"
	})

	var style UrlStyle = PathStyle{}
	if cfg["url_style"] == "subdomain" {
		style = SubdomainStyle{}
	}

	return &Provider{cfg: cfg, client: client, style: style}, nil
}

// CheckConfig 本地同步校验，必填字段缺一个就失败，不发网络请求
func (p *Provider) CheckConfig(ctx context.Context) types.Result[string] {
	if missing := provider.RequireFields(p.cfg,
		"region", "bucket", "access_key_id", "secret_access_key"); missing != "" {
		return types.Fail[string]("s3: missing required field: " + missing)
	}
	return types.Ok("s3: config ok (bucket " + p.cfg["bucket"] + ")")
}

// objectKey 拼上可选的目录前缀
func (p *Provider) objectKey(key string) string {
	prefix := strings.Trim(p.cfg["key_prefix"], "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Upload 上传二进制内容
func (p *Provider) Upload(ctx context.Context, blob []byte, key string, onProgress provider.ProgressFunc) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	fullKey := p.objectKey(key)
	body := newProgressReader(bytes.NewReader(blob), int64(len(blob)), onProgress)

	_, err := p.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(p.cfg["bucket"]),
		Key:           aws.String(fullKey),
		Body:          body,
		ContentLength: aws.Int64(int64(len(blob))),
	})
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("s3 put failed: %v", err))
	}

	if onProgress != nil {
		onProgress(int64(len(blob)), int64(len(blob)))
	}
	return types.Ok(types.Remote{URL: p.PublicURL(key), Key: key})
}

// Delete 删除对象
// S3 的 DeleteObject 对不存在的 key 本来就返回成功，语义正好吻合：
// 想要的终态 (对象不在) 已经达成。
func (p *Provider) Delete(ctx context.Context, key string) types.Result[string] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[string](r.Error)
	}

	_, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.cfg["bucket"]),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) || strings.Contains(err.Error(), "404") {
			return types.Ok(key)
		}
		return types.Fail[string](fmt.Sprintf("s3 delete failed: %v", err))
	}
	return types.Ok(key)
}

// ExistsByPrefix 用 ListObjectsV2 找共享前缀的既有对象 (去重钩子)
func (p *Provider) ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	resp, err := p.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(p.cfg["bucket"]),
		Prefix:  aws.String(p.objectKey(prefix)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("s3 list failed: %v", err))
	}
	if resp.KeyCount == nil || *resp.KeyCount == 0 {
		return types.Ok(types.Remote{}) // 未命中，不是错误
	}

	full := aws.ToString(resp.Contents[0].Key)
	// 还原成不带目录前缀的逻辑 key
	key := strings.TrimPrefix(strings.TrimPrefix(full, strings.Trim(p.cfg["key_prefix"], "/")), "/")
	return types.Ok(types.Remote{URL: p.PublicURL(key), Key: key})
}

// PublicURL 按 UrlStyle 策略构造公开地址
func (p *Provider) PublicURL(key string) string {
	fullKey := p.objectKey(key)
	if d := p.cfg["public_domain"]; d != "" {
		return "https://" + strings.TrimSuffix(d, "/") + "/" + fullKey
	}
	endpoint := p.cfg["endpoint"]
	if endpoint == "" {
		endpoint = "https://s3." + p.cfg["region"] + ".amazonaws.com"
	}
	return p.style.PublicURL(endpoint, p.cfg["bucket"], fullKey)
}

// Dispose S3 客户端没有需要显式释放的连接
func (p *Provider) Dispose() {}
