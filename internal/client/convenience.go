package client

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/envelope"
)

// Ping issues GET /api/v1/ping.
func (c *Client) Ping(ctx context.Context) (*envelope.Response, error) {
	return c.Request(ctx, "GET", "/api/v1/ping", nil, 5*time.Second)
}

// GetSystemInfo issues GET /api/v1/system/info.
func (c *Client) GetSystemInfo(ctx context.Context) (*envelope.Response, error) {
	return c.Request(ctx, "GET", "/api/v1/system/info", nil, 5*time.Second)
}

// ExecCommand issues POST /api/v1/shell/exec.
func (c *Client) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*envelope.Response, error) {
	return c.Request(ctx, "POST", "/api/v1/shell/exec", map[string]interface{}{
		"command": command,
	}, timeout)
}

// UploadFile reads local, uploads it to remote, and verifies the server's
// reported MD5 against the bytes it sent.
func (c *Client) UploadFile(ctx context.Context, local, remote string, overwrite bool) (*envelope.Response, error) {
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("client: read local file: %w", err)
	}

	resp, err := c.Request(ctx, "POST", "/api/v1/file/upload", map[string]interface{}{
		"path":      remote,
		"content":   base64.StdEncoding.EncodeToString(data),
		"overwrite": overwrite,
	}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if resp.Code != envelope.CodeSuccess {
		return resp, nil
	}

	sum := md5.Sum(data)
	wantMD5 := hex.EncodeToString(sum[:])
	if gotMD5, ok := dataField(resp, "md5"); ok && gotMD5 != wantMD5 {
		return resp, fmt.Errorf("client: md5 mismatch after upload: got %s want %s", gotMD5, wantMD5)
	}
	return resp, nil
}

// DownloadFile reads remote in envelope.MaxChunkBytes-sized pieces and
// streams them to local, verifying each chunk's reported MD5 against the
// bytes received.
func (c *Client) DownloadFile(ctx context.Context, remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("client: create local file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	var offset int64
	for {
		resp, err := c.Request(ctx, "POST", "/api/v1/file/download", map[string]interface{}{
			"path":   remote,
			"offset": offset,
			"length": envelope.MaxChunkBytes,
		}, 30*time.Second)
		if err != nil {
			return err
		}
		if resp.Code != envelope.CodeSuccess {
			return fmt.Errorf("client: download failed: %s", resp.Message)
		}

		content, ok := dataField(resp, "content")
		if !ok {
			return fmt.Errorf("client: malformed download response: missing content")
		}
		chunk, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return fmt.Errorf("client: malformed chunk encoding: %w", err)
		}
		chunkSum := md5.Sum(chunk)
		if wantChunkMD5, ok := dataField(resp, "md5"); ok && hex.EncodeToString(chunkSum[:]) != wantChunkMD5 {
			return fmt.Errorf("client: chunk md5 mismatch at offset %d", offset)
		}

		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("client: write local file: %w", err)
		}
		h.Write(chunk)

		offset += int64(len(chunk))
		totalSize, _ := dataNumberField(resp, "total_size")
		if len(chunk) == 0 || offset >= int64(totalSize) {
			break
		}
	}
	return nil
}

// dataField reads a string field out of a response's Data, which travels
// the wire as a JSON object decoded into map[string]interface{}.
func dataField(resp *envelope.Response, key string) (string, bool) {
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

func dataNumberField(resp *envelope.Response, key string) (float64, bool) {
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		return 0, false
	}
	n, ok := m[key].(float64)
	return n, ok
}
