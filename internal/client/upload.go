package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
)

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// UploadFile posts file as multipart form field to endpoint. Progress is
// reported from 0 to 100 as the body is written to the connection. The cache
// is never touched.
func (c *Client) UploadFile(ctx context.Context, endpoint, field, filename string, file io.Reader, onProgress ProgressFunc) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("reading upload source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	pr := &progressReader{r: &buf, total: int64(buf.Len()), onProgress: onProgress}
	pr.report(0)

	raw, err := c.do(ctx, http.MethodPost, endpoint, requestBody{
		reader:      pr,
		contentType: mw.FormDataContentType(),
		length:      pr.total,
	})
	if err != nil {
		return nil, err
	}

	pr.report(100)
	return raw, nil
}

// progressReader reports monotonically increasing percentages as it is read.
type progressReader struct {
	r          io.Reader
	total      int64
	onProgress ProgressFunc

	mu   sync.Mutex
	read int64
	last int
	sent bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		read := p.read
		p.mu.Unlock()
		if p.total > 0 {
			p.report(int(read * 100 / p.total))
		}
	}
	return n, err
}

func (p *progressReader) report(percent int) {
	if p.onProgress == nil {
		return
	}
	p.mu.Lock()
	if p.sent && percent <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.sent = true
	p.mu.Unlock()

	p.onProgress(percent)
}
