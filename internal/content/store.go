package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // gs://
	_ "gocloud.dev/blob/memblob" // mem://
	_ "gocloud.dev/blob/s3blob"  // s3://
	"gocloud.dev/gcerrors"

	"worknode/internal/failure"
)

const storeComponent = "content-store"

var (
	ErrNotFound          = errors.New("content not found")
	ErrUnsupportedScheme = errors.New("unsupported content uri scheme")
	ErrOutsideRoot       = errors.New("content path outside content root")
)

// Store resolves References to blob buckets and opens them for reading or
// writing. Remote buckets are opened lazily and cached per bucket URL. file
// URIs are served from a single bucket on the content root and must resolve
// inside it; without a root they are refused. Store is safe for concurrent
// use.
type Store struct {
	root string

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	rootB   *blob.Bucket
}

type Option func(*Store)

// WithRoot confines file URIs to dir.
func WithRoot(dir string) Option {
	return func(s *Store) {
		if dir == "" {
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		s.root = filepath.Clean(dir)
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{buckets: make(map[string]*blob.Bucket)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root is the directory file URIs are confined to, empty when file URIs are
// refused.
func (s *Store) Root() string { return s.root }

// Mount registers an already-open bucket under bucketURL (e.g. "mem://scratch").
// References whose bucket part equals bucketURL resolve to it.
func (s *Store) Mount(bucketURL string, b *blob.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucketURL] = b
}

// Open returns the stored bytes of ref unchanged.
func (s *Store) Open(ctx context.Context, ref Reference) (io.ReadCloser, error) {
	b, key, err := s.resolve(ctx, ref.URI)
	if err != nil {
		return nil, err
	}
	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return nil, classify(ctx, ref.URI, "open", err)
	}
	return r, nil
}

// OpenDecoded is Open with transparent zstd decompression for references
// ending in ".zst" or typed application/zstd.
func (s *Store) OpenDecoded(ctx context.Context, ref Reference) (io.ReadCloser, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !IsZstd(ref) {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", ref.URI, err)
	}
	return &decodedReader{ReadCloser: dec.IOReadCloser(), raw: rc}, nil
}

// Create opens a writer for ref. The content is committed on Close. Missing
// directories under the content root are created.
func (s *Store) Create(ctx context.Context, ref Reference) (io.WriteCloser, error) {
	b, key, err := s.resolve(ctx, ref.URI)
	if err != nil {
		return nil, err
	}
	var opts *blob.WriterOptions
	if ref.MediaType != "" {
		opts = &blob.WriterOptions{ContentType: ref.MediaType}
	}
	w, err := b.NewWriter(ctx, key, opts)
	if err != nil {
		return nil, classify(ctx, ref.URI, "create", err)
	}
	return w, nil
}

// Size returns the stored size of ref.
func (s *Store) Size(ctx context.Context, ref Reference) (int64, error) {
	b, key, err := s.resolve(ctx, ref.URI)
	if err != nil {
		return 0, err
	}
	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return 0, classify(ctx, ref.URI, "stat", err)
	}
	return attrs.Size, nil
}

// Close closes every open bucket.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for k, b := range s.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", k, err))
		}
		delete(s.buckets, k)
	}
	if s.rootB != nil {
		if err := s.rootB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close content root: %w", err))
		}
		s.rootB = nil
	}
	return errors.Join(errs...)
}

// resolve maps uri to a bucket and key. Failures here come from the uri
// itself and are never reported as the store being unavailable.
func (s *Store) resolve(ctx context.Context, uri string) (*blob.Bucket, string, error) {
	if p, ok, err := FilePath(uri); ok {
		if err != nil {
			return nil, "", err
		}
		return s.resolveFile(uri, p)
	}

	bucketURL, key, err := Locate(uri)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[bucketURL]; ok {
		return b, key, nil
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("open bucket for %s: %w", uri, err)
	}
	s.buckets[bucketURL] = b
	return b, key, nil
}

func (s *Store) resolveFile(uri, p string) (*blob.Bucket, string, error) {
	if s.root == "" {
		return nil, "", fmt.Errorf("%w: %s (no content root configured)", ErrOutsideRoot, uri)
	}
	key, err := s.rootKey(p)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", err, uri)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootB == nil {
		if err := os.MkdirAll(s.root, 0o755); err != nil {
			return nil, "", fmt.Errorf("create content root: %w", err)
		}
		b, err := fileblob.OpenBucket(s.root, nil)
		if err != nil {
			return nil, "", fmt.Errorf("open content root: %w", err)
		}
		s.rootB = b
	}
	return s.rootB, key, nil
}

// rootKey returns p relative to the root as a slash separated blob key.
// Symlinks in the existing part of p are resolved before the check.
func (s *Store) rootKey(p string) (string, error) {
	p = realPath(filepath.Clean(p))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", ErrOutsideRoot
	}
	return filepath.ToSlash(rel), nil
}

// realPath resolves symlinks in the longest existing prefix of p.
func realPath(p string) string {
	rest := ""
	for dir := p; ; {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return p
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// FilePath reports whether uri uses the file scheme and, if so, the local
// path it names.
func FilePath(uri string) (path string, ok bool, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false, nil
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if p == "" {
		return "", true, fmt.Errorf("content uri %q has no path", uri)
	}
	return filepath.FromSlash(p), true, nil
}

// Locate splits a remote content URI into the URL of its bucket and the
// object key.
func Locate(uri string) (bucketURL, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse content uri %q: %w", uri, err)
	}
	switch u.Scheme {
	case "mem", "gs", "s3":
		key = strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return "", "", fmt.Errorf("content uri %q needs bucket and key", uri)
		}
		bucketURL = u.Scheme + "://" + u.Host
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
		return bucketURL, key, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// IsZstd reports whether ref holds zstd-compressed bytes.
func IsZstd(ref Reference) bool {
	return ref.MatchesMediaType("application/zstd") || strings.HasSuffix(strings.ToLower(ref.URI), ".zst")
}

// classify maps a bucket error. Only a backend timing out or throttling
// while the caller's own context is still live counts as unavailable; an
// expired work deadline is an ordinary error of that work item.
func classify(ctx context.Context, uri, op string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	case gcerrors.DeadlineExceeded, gcerrors.ResourceExhausted:
		if ctx.Err() == nil {
			return failure.Unavailable(storeComponent, fmt.Errorf("%s %s: %w", op, uri, err))
		}
	}
	return fmt.Errorf("%s %s: %w", op, uri, err)
}

type decodedReader struct {
	io.ReadCloser
	raw io.Closer
}

func (d *decodedReader) Close() error {
	err := d.ReadCloser.Close()
	if rawErr := d.raw.Close(); err == nil {
		err = rawErr
	}
	return err
}
