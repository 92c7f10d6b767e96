package s3

import (
	"bytes"
	"io"

	"uplink/pkg/provider"
)

// progressReader 包装上传体，在 Read 时上报进度
// 必须保留 Seek 能力：SDK 签名时可能回绕读取。
type progressReader struct {
	inner  *bytes.Reader
	total  int64
	loaded int64
	report provider.ProgressFunc
}

func newProgressReader(inner *bytes.Reader, total int64, report provider.ProgressFunc) *progressReader {
	return &progressReader{inner: inner, total: total, report: report}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 && r.report != nil {
		r.loaded += int64(n)
		// 回绕重读时 loaded 可能超 total，进度对外永远钳在 total 以内
		reported := r.loaded
		if reported > r.total {
			reported = r.total
		}
		r.report(reported, r.total)
	}
	return n, err
}

func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.inner.Seek(offset, whence)
	if err == nil && pos == 0 && whence == io.SeekStart {
		// 签名回绕：从头再读，进度清零重来
		r.loaded = 0
	}
	return pos, err
}
