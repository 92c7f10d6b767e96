package s3

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"uplink/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. 纯逻辑测试 (不需要网络)
// -----------------------------------------------------------------------------

func TestCheckConfig_MissingField(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, provider.Config{
		"region": "us-east-1",
		"bucket": "b",
		// access_key_id / secret_access_key 缺失
	})
	require.NoError(t, err, "construction must not validate fields")

	r := p.CheckConfig(ctx)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "access_key_id")

	// 传输操作也会被同一个本地校验前置拦截，不发网络请求
	up := p.Upload(ctx, []byte("x"), "k", nil)
	assert.False(t, up.Success)
	assert.Contains(t, up.Error, "missing required field")
}

func TestUrlStyles(t *testing.T) {
	path := PathStyle{}
	assert.Equal(t, "http://host:9000/bkt/a/b.png",
		path.PublicURL("http://host:9000", "bkt", "a/b.png"))

	sub := SubdomainStyle{}
	assert.Equal(t, "https://bkt.s3.example.com/a/b.png",
		sub.PublicURL("https://s3.example.com", "bkt", "a/b.png"))
}

func TestPublicURL_Variants(t *testing.T) {
	ctx := context.Background()

	t.Run("custom public domain wins", func(t *testing.T) {
		p, err := New(ctx, provider.Config{
			"region": "us-east-1", "bucket": "b",
			"access_key_id": "a", "secret_access_key": "s",
			"public_domain": "img.example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://img.example.com/f.png", p.PublicURL("f.png"))
	})

	t.Run("key prefix folded in", func(t *testing.T) {
		p, err := New(ctx, provider.Config{
			"region": "us-east-1", "bucket": "b",
			"access_key_id": "a", "secret_access_key": "s",
			"endpoint":   "http://localhost:9000",
			"key_prefix": "attachments/",
		})
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9000/b/attachments/f.png", p.PublicURL("f.png"))
	})

	t.Run("aws default endpoint", func(t *testing.T) {
		p, err := New(ctx, provider.Config{
			"region": "eu-west-1", "bucket": "b",
			"access_key_id": "a", "secret_access_key": "s",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://s3.eu-west-1.amazonaws.com/b/f.png", p.PublicURL("f.png"))
	})
}

func TestProgressReader(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)

	var loads []int64
	r := newProgressReader(bytes.NewReader(data), 100, func(loaded, total int64) {
		loads = append(loads, loaded)
		assert.Equal(t, int64(100), total)
	})

	buf := make([]byte, 30)
	for {
		if _, err := r.Read(buf); err != nil {
			break
		}
	}

	require.NotEmpty(t, loads)
	assert.Equal(t, int64(100), loads[len(loads)-1])
	for i := 1; i < len(loads); i++ {
		assert.GreaterOrEqual(t, loads[i], loads[i-1])
	}
}

// -----------------------------------------------------------------------------
// 2. 集成测试 (本地 MinIO，端口没开就跳过)
// -----------------------------------------------------------------------------

func isMinIOAvailable(t *testing.T) bool {
	conn, err := net.DialTimeout("tcp", "localhost:9000", 1*time.Second)
	if err != nil {
		t.Logf("⚠️ MinIO not reachable at localhost:9000. Skipping integration tests.")
		return false
	}
	conn.Close()
	return true
}

func TestS3Provider_Integration(t *testing.T) {
	if !isMinIOAvailable(t) {
		t.Skip("Skipping S3 integration tests (MinIO down)")
	}

	ctx := context.Background()
	p, err := New(ctx, provider.Config{
		"endpoint":          "http://localhost:9000",
		"region":            "us-east-1",
		"bucket":            "uplink-test-bucket",
		"access_key_id":     "admin",
		"secret_access_key": "password",
	})
	require.NoError(t, err)

	blob := []byte("hello uplink attachment")
	key := "itest/hello.txt"

	t.Run("Upload", func(t *testing.T) {
		var last int64
		r := p.Upload(ctx, blob, key, func(loaded, total int64) { last = loaded })
		require.True(t, r.Success, r.Error)
		assert.Equal(t, key, r.Data.Key)
		assert.Equal(t, int64(len(blob)), last)
	})

	t.Run("ExistsByPrefix", func(t *testing.T) {
		r := p.ExistsByPrefix(ctx, "itest/hello")
		require.True(t, r.Success, r.Error)
		assert.True(t, provider.Found(r))

		miss := p.ExistsByPrefix(ctx, "itest/definitely-absent")
		require.True(t, miss.Success, miss.Error)
		assert.False(t, provider.Found(miss))
	})

	t.Run("Delete", func(t *testing.T) {
		r := p.Delete(ctx, key)
		assert.True(t, r.Success, r.Error)

		// 再删一次：对象已不在，仍然算成功
		again := p.Delete(ctx, key)
		assert.True(t, again.Success, again.Error)
	})
}
