package handlers

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/policy"
	"github.com/nodeagent/vserial-rpc/internal/server"
)

// MaxChunk and MD5Cap alias the envelope-level constants so existing call
// sites in this package don't need an envelope import touch-up.
const (
	MaxChunk = envelope.MaxChunkBytes
	MD5Cap   = envelope.MD5CapBytes
)

// FileUpload answers POST /api/v1/file/upload: decode a base64 blob and
// write it to an allow-listed path. It never creates missing parent
// directories.
func FileUpload(paths *policy.PathPolicy) server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		rawPath, err := paramString(req.Params, "path")
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "%v", err)
		}
		content, err := paramString(req.Params, "content")
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "%v", err)
		}
		overwrite := paramBool(req.Params, "overwrite", false)

		clean, err := paths.Canonicalize(rawPath, true)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodePermissionDenied, "%v", err)
		}

		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "content is not valid base64: %v", err)
		}

		parent := filepath.Dir(clean)
		if _, err := os.Stat(parent); err != nil {
			return nil, server.NewHandlerError(envelope.CodeFileNotFound, "parent directory does not exist: %s", parent)
		}

		if !overwrite {
			if _, err := os.Stat(clean); err == nil {
				return nil, server.NewHandlerError(envelope.CodeInvalidParams, "file already exists and overwrite=false")
			}
		}

		mode := os.FileMode(0o644)
		if m, ok := req.Params["mode"].(string); ok && m != "" {
			if parsed, err := strconv.ParseUint(m, 8, 32); err == nil {
				mode = os.FileMode(parsed)
			}
		}

		if err := os.WriteFile(clean, data, mode); err != nil {
			return nil, server.NewHandlerError(envelope.CodeInternalError, "write failed: %v", err)
		}

		if owner, ok := req.Params["owner"].(string); ok && owner != "" {
			group, _ := req.Params["group"].(string)
			if err := chownByName(clean, owner, group); err != nil {
				return nil, server.NewHandlerError(envelope.CodeInternalError, "chown failed: %v", err)
			}
		}

		sum := md5.Sum(data)
		return map[string]interface{}{
			"size": len(data),
			"md5":  hex.EncodeToString(sum[:]),
		}, nil
	}
}

// FileDownload answers POST /api/v1/file/download: read (offset, length)
// from an allow-listed path.
func FileDownload(paths *policy.PathPolicy) server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		rawPath, err := paramString(req.Params, "path")
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "%v", err)
		}
		offset, err := paramInt64(req.Params, "offset", 0)
		if err != nil || offset < 0 {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "invalid offset")
		}
		length, err := paramInt64(req.Params, "length", MaxChunk)
		if err != nil || length < 1 || length > MaxChunk {
			return nil, server.NewHandlerError(envelope.CodeInvalidParams, "length must be in [1, %d]", MaxChunk)
		}

		clean, err := paths.Canonicalize(rawPath, false)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodePermissionDenied, "%v", err)
		}

		f, err := os.Open(clean)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeFileNotFound, "%v", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeInternalError, "%v", err)
		}

		buf := make([]byte, length)
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, server.NewHandlerError(envelope.CodeInternalError, "%v", err)
		}
		buf = buf[:n]
		sum := md5.Sum(buf)

		return map[string]interface{}{
			"content":    base64.StdEncoding.EncodeToString(buf),
			"size":       n,
			"total_size": info.Size(),
			"md5":        hex.EncodeToString(sum[:]),
		}, nil
	}
}

// FileInfo answers GET /api/v1/file/info?path=….
func FileInfo(paths *policy.PathPolicy) server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		rawPath, ok := req.Query["path"]
		if !ok || rawPath == "" {
			return nil, server.NewHandlerError(envelope.CodeMissingRequired, "missing query parameter: path")
		}

		clean, err := paths.Canonicalize(rawPath, false)
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodePermissionDenied, "%v", err)
		}

		info, err := os.Lstat(clean)
		if os.IsNotExist(err) {
			return map[string]interface{}{"exists": false}, nil
		}
		if err != nil {
			return nil, server.NewHandlerError(envelope.CodeInternalError, "%v", err)
		}

		fileType := "file"
		switch {
		case info.IsDir():
			fileType = "directory"
		case info.Mode()&os.ModeSymlink != 0:
			fileType = "symlink"
		}

		owner, group := ownerNames(info)

		result := map[string]interface{}{
			"exists": true,
			"type":   fileType,
			"size":   info.Size(),
			"mode":   fmt.Sprintf("%04o", info.Mode().Perm()),
			"owner":  owner,
			"group":  group,
			"mtime":  info.ModTime().Unix(),
		}

		if !info.IsDir() && info.Size() <= MD5Cap {
			if sum, err := md5File(clean); err == nil {
				result["md5"] = sum
			}
		}

		return result, nil
	}
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func ownerNames(info os.FileInfo) (owner, group string) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	if u, err := user.LookupId(strconv.Itoa(int(stat.Uid))); err == nil {
		owner = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(int(stat.Gid))); err == nil {
		group = g.Name
	}
	return owner, group
}

func chownByName(path, owner, group string) error {
	uid := -1
	gid := -1
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return err
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return os.Chown(path, uid, gid)
}
