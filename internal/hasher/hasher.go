package hasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"repost-radar/internal/logging"
	"repost-radar/internal/model"
)

const tempPattern = "img-*"

type Options struct {
	TempDir        string
	MaxBytes       int64
	AllowedFormats []string
	Client         *http.Client
	Hash           HashFunc // defaults to PerceptualHash
}

// Hasher downloads one attachment at a time into a scoped temp file and
// hashes it. It is safe for concurrent use.
type Hasher struct {
	tempDir  string
	maxBytes int64
	formats  []string
	client   *http.Client
	hash     HashFunc
	log      *logging.Logger
}

func New(opts Options, log *logging.Logger) *Hasher {
	if log == nil {
		log = logging.NewNop()
	}
	h := &Hasher{
		tempDir:  opts.TempDir,
		maxBytes: opts.MaxBytes,
		client:   opts.Client,
		hash:     opts.Hash,
		log:      log,
	}
	h.formats = lo.Map(opts.AllowedFormats, func(f string, _ int) string { return strings.ToLower(strings.TrimSpace(f)) })
	if h.tempDir == "" {
		h.tempDir = os.TempDir()
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 60 * time.Second}
	}
	if h.hash == nil {
		h.hash = PerceptualHash
	}
	return h
}

// Accepts reports whether the attachment passes the format gate.
func (h *Hasher) Accepts(att model.Attachment) bool {
	return lo.Contains(h.formats, mediaType(att.ContentType))
}

// Hash returns the perceptual hash of att. UnsupportedFormat and TooLarge
// errors mean the attachment should be skipped; everything else is a failure.
func (h *Hasher) Hash(ctx context.Context, att model.Attachment) (model.HashValue, error) {
	const op = "hasher"

	if !h.Accepts(att) {
		return "", &model.Error{Kind: model.KindUnsupportedFormat, Op: op, Err: fmt.Errorf("content type %q", att.ContentType)}
	}
	if h.maxBytes > 0 {
		size := att.Size
		if size <= 0 {
			size = h.probeSize(ctx, att.URL)
		}
		if size > h.maxBytes {
			return "", &model.Error{Kind: model.KindTooLarge, Op: op, Err: fmt.Errorf("%d bytes, limit %d", size, h.maxBytes)}
		}
	}

	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(h.tempDir, tempPattern+filepath.Ext(att.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			h.log.Debugf("hasher: remove temp %s: %v", f.Name(), err)
		}
	}()

	if err := h.download(ctx, att.URL, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind temp file: %w", err)
	}

	value, err := h.hash(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", att.Filename, err)
	}
	return value, nil
}

func (h *Hasher) download(ctx context.Context, url string, dst io.Writer) error {
	const op = "download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &model.Error{Kind: model.KindTransport, Op: op, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &model.Error{Kind: model.KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &model.Error{Kind: model.KindTransport, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("GET %s", url)}
	}

	var src io.Reader = resp.Body
	if h.maxBytes > 0 {
		src = io.LimitReader(resp.Body, h.maxBytes+1)
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &model.Error{Kind: model.KindTransport, Op: op, Err: err}
	}
	if h.maxBytes > 0 && n > h.maxBytes {
		return &model.Error{Kind: model.KindTooLarge, Op: op, Err: fmt.Errorf("body exceeds %d bytes", h.maxBytes)}
	}
	return nil
}

// probeSize asks the server for the content length. Unknown sizes come back
// as 0 and are enforced while streaming instead.
func (h *Hasher) probeSize(ctx context.Context, url string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debugf("hasher: HEAD %s: %v", url, err)
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0
	}
	return resp.ContentLength
}

// CleanupTemp removes temp files older than maxAge left behind by a crash.
func (h *Hasher) CleanupTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "img-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(h.tempDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		h.log.Infof("hasher: removed %d stale temp files from %s", removed, h.tempDir)
	}
	return removed, nil
}

func mediaType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
