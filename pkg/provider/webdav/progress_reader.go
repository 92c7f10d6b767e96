package webdav

import (
	"bytes"

	"uplink/pkg/provider"
)

// progressReader 在 Read 时上报上传进度
type progressReader struct {
	inner  *bytes.Reader
	total  int64
	loaded int64
	report provider.ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 && r.report != nil {
		r.loaded += int64(n)
		if r.loaded > r.total {
			r.loaded = r.total
		}
		r.report(r.loaded, r.total)
	}
	return n, err
}
