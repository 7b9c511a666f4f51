// Package hash computes content digests for hash requests.
package hash

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	stdhash "hash"
	"io"
	"strings"

	"worknode/internal/content"
	"worknode/internal/protocol"
	"worknode/internal/worker"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

var algorithms = map[string]func() stdhash.Hash{
	"MD5":    md5.New,
	"SHA1":   sha1.New,
	"SHA224": sha256.New224,
	"SHA256": sha256.New,
	"SHA384": sha512.New384,
	"SHA512": sha512.New,
}

// canonical maps "sha-256", "Sha256" and "SHA256" to the same key.
func canonical(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(name)))
}

// IsAlgorithmSupported reports whether name can be computed by Strategy.
func IsAlgorithmSupported(name string) bool {
	_, ok := algorithms[canonical(name)]
	return ok
}

// Source reads content by reference.
type Source interface {
	OpenDecoded(ctx context.Context, ref content.Reference) (io.ReadCloser, error)
}

type Strategy struct {
	store Source
}

var _ worker.Strategy[*protocol.HashRequest] = (*Strategy)(nil)

func New(store Source) *Strategy {
	return &Strategy{store: store}
}

// Work digests every source in order, reporting progress after each one.
func (s *Strategy) Work(ctx context.Context, req *protocol.HashRequest, progress worker.Progress) ([]content.WorkResult, error) {
	newHash, ok := algorithms[canonical(req.Algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, req.Algorithm)
	}

	results := make([]content.WorkResult, 0, len(req.Sources))
	for i, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, n, err := s.digest(ctx, src, newHash())
		if err != nil {
			return nil, err
		}

		res := content.NewWorkResult(src.WithSize(n))
		res.Details[protocol.DetailAlgorithm] = req.Algorithm
		res.Details[protocol.DetailHash] = sum
		res.Details[protocol.DetailByteSize] = n
		results = append(results, res)

		progress.Report(float64(i+1) / float64(len(req.Sources)))
	}
	return results, nil
}

func (s *Strategy) digest(ctx context.Context, src content.Reference, h stdhash.Hash) (string, int64, error) {
	r, err := s.store.OpenDecoded(ctx, src)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", src.URI, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
