// Package archive stores run transcripts on local disk or in a MinIO
// bucket.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
)

const contentType = "text/plain; charset=utf-8"

// ErrFallback accompanies an object that was written locally because the
// bucket could not be reached. The returned Object is valid.
var ErrFallback = errors.New("archive: minio unavailable, wrote locally")

// Writer stores one transcript.
type Writer interface {
	Write(ctx context.Context, meta Meta, content string) (Object, error)
}

// Meta places a transcript in the archive layout
// <prefix>/<device>/<YYYYMMDD_HHMMSS>/<run id>/<script>.txt.
type Meta struct {
	RunID   string
	Device  string
	Script  string
	Started time.Time
}

// Object describes a stored transcript.
type Object struct {
	URI      string `json:"uri"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// NewWriter returns a writer for cfg.Backend. The MinIO client is only
// created for the "minio" backend.
func NewWriter(cfg config.ArchiveConfig) Writer {
	w := &DelegatingWriter{backend: strings.ToLower(strings.TrimSpace(cfg.Backend)), local: &LocalWriter{cfg: cfg}}
	if w.backend == "minio" {
		w.minio = newMinioWriter(cfg)
	}
	return w
}

// DelegatingWriter routes to MinIO or local disk, falling back to disk when
// MinIO fails.
type DelegatingWriter struct {
	backend string
	local   *LocalWriter
	minio   *MinioWriter
}

func (w *DelegatingWriter) Write(ctx context.Context, meta Meta, content string) (Object, error) {
	if w.backend != "minio" {
		return w.local.Write(ctx, meta, content)
	}

	var cause error
	if w.minio == nil {
		cause = errors.New("minio client not initialized")
	} else {
		obj, err := w.minio.Write(ctx, meta, content)
		if err == nil {
			return obj, nil
		}
		cause = err
	}

	logger.Warnf("archive: %v; falling back to local", cause)
	obj, err := w.local.Write(ctx, meta, content)
	if err != nil {
		return Object{}, fmt.Errorf("%v; local fallback failed: %w", cause, err)
	}
	return obj, fmt.Errorf("%w: %v", ErrFallback, cause)
}

func objectPath(prefix string, meta Meta) []string {
	var parts []string
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	started := meta.Started
	if started.IsZero() {
		started = time.Now()
	}
	parts = append(parts, slug(meta.Device), started.Format("20060102_150405"))
	if id := strings.TrimSpace(meta.RunID); id != "" {
		parts = append(parts, id)
	}
	return append(parts, slug(meta.Script)+".txt")
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LocalWriter writes below archive.local.base_dir.
type LocalWriter struct {
	cfg config.ArchiveConfig
}

func (w *LocalWriter) Write(_ context.Context, meta Meta, content string) (Object, error) {
	baseDir := strings.TrimSpace(w.cfg.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data/archive"
	}
	fullPath := filepath.Join(append([]string{baseDir}, objectPath(w.cfg.Prefix, meta)...)...)

	if w.cfg.Local.MkdirIfMissing {
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return Object{}, fmt.Errorf("failed to create dir: %w", err)
		}
	}

	data := []byte(content)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("failed to write file: %w", err)
	}
	return Object{URI: "file://" + fullPath, Size: int64(len(data)), Checksum: checksum(data)}, nil
}

// MinioWriter puts transcripts into archive.minio.bucket.
type MinioWriter struct {
	cfg           config.ArchiveConfig
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

func newMinioWriter(cfg config.ArchiveConfig) *MinioWriter {
	host := strings.TrimSpace(cfg.Minio.Host)
	if host == "" || cfg.Minio.Port <= 0 {
		logger.Warn("archive: minio host/port missing")
		return nil
	}
	endpoint := cfg.MinioEndpoint()

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure:    cfg.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Errorf("archive: minio client init failed: %v", err)
		return nil
	}
	return &MinioWriter{cfg: cfg, client: client, endpoint: endpoint}
}

func (w *MinioWriter) Write(ctx context.Context, meta Meta, content string) (Object, error) {
	bucket := strings.TrimSpace(w.cfg.Minio.Bucket)
	if bucket == "" {
		return Object{}, fmt.Errorf("minio bucket not configured")
	}

	// fail fast instead of waiting on the HTTP client's retries
	if err := w.fastConnectivityCheck(ctx); err != nil {
		return Object{}, fmt.Errorf("minio connectivity failed to %s: %w", w.endpoint, err)
	}
	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket, 2); err != nil {
			return Object{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	objectName := path.Join(objectPath(w.cfg.Prefix, meta)...)
	data := []byte(content)

	var lastErr error
	for _, wait := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		attemptCtx, cancel := attemptContext(ctx, wait)
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		cancel()
		if lastErr = err; err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return Object{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	if lastErr != nil {
		return Object{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	return Object{
		URI:      "minio://" + path.Join(bucket, objectName),
		Size:     int64(len(data)),
		Checksum: checksum(data),
	}, nil
}

func (w *MinioWriter) fastConnectivityCheck(ctx context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", w.endpoint)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (w *MinioWriter) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		if err == nil && !exists {
			err = w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

// attemptContext bounds one attempt by prefer, leaving a second of the
// parent's deadline for the caller.
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		switch {
		case remain > time.Second && prefer < remain:
			return context.WithTimeout(parent, prefer)
		case remain > time.Second:
			return context.WithTimeout(parent, remain-time.Second)
		default:
			return context.WithTimeout(parent, time.Second)
		}
	}
	return context.WithTimeout(parent, prefer)
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_").Replace(s)
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
