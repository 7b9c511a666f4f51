// Package transform converts source content into target content, either by
// invoking an external media tool or in-process.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"worknode/internal/cmdline"
	"worknode/internal/content"
	"worknode/internal/failure"
	"worknode/internal/protocol"
	"worknode/internal/worker"
)

const stderrTail = 2048

// Store reads sources and writes targets.
type Store interface {
	OpenDecoded(ctx context.Context, ref content.Reference) (io.ReadCloser, error)
	Create(ctx context.Context, ref content.Reference) (io.WriteCloser, error)
}

// CommandStrategy stages each source into a scratch directory, runs an
// external tool on it and uploads the produced file to the matching target.
type CommandStrategy struct {
	store   Store
	tool    Tool
	binary  string
	workDir string
}

var _ worker.Strategy[*protocol.TransformationRequest] = (*CommandStrategy)(nil)

// NewCommandStrategy runs binary with arguments built by tool. Scratch
// directories are created under workDir, or the system temp dir when empty.
func NewCommandStrategy(store Store, tool Tool, binary, workDir string) *CommandStrategy {
	return &CommandStrategy{store: store, tool: tool, binary: binary, workDir: workDir}
}

func (s *CommandStrategy) Work(ctx context.Context, req *protocol.TransformationRequest, progress worker.Progress) ([]content.WorkResult, error) {
	// Params are tokenized before anything is staged or spawned so a
	// malformed string fails the request without side effects.
	var extra []string
	if req.Options != nil && req.Options.Params != nil {
		var err error
		if extra, err = cmdline.SplitRef(req.Options.Params); err != nil {
			return nil, fmt.Errorf("options params: %w", err)
		}
	}

	bin, err := exec.LookPath(s.binary)
	if err != nil {
		return nil, failure.Unavailable(s.tool.Name(), err)
	}

	dir, err := os.MkdirTemp(s.workDir, "transform-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	results := make([]content.WorkResult, 0, len(req.Sources))
	for i, src := range req.Sources {
		target := req.Targets[i]
		inv := Invocation{
			Input:   filepath.Join(dir, fmt.Sprintf("in-%d%s", i, path.Ext(src.URI))),
			Output:  filepath.Join(dir, fmt.Sprintf("out-%d%s", i, path.Ext(target.URI))),
			Source:  src,
			Target:  target,
			Options: req.Options,
			Extra:   extra,
		}

		if err := s.stage(ctx, src, inv.Input); err != nil {
			return nil, err
		}
		if err := s.run(ctx, bin, s.tool.Args(inv)); err != nil {
			return nil, err
		}
		n, err := s.upload(ctx, inv.Output, target)
		if err != nil {
			return nil, err
		}

		res := content.NewWorkResult(target.WithSize(n))
		res.Details[protocol.DetailTool] = s.tool.Name()
		res.Details[protocol.DetailByteSize] = n
		if target.MediaType != "" {
			res.Details[protocol.DetailMediaType] = target.MediaType
		}
		results = append(results, res)
		progress.Report(float64(i+1) / float64(len(req.Sources)))
	}
	return results, nil
}

func (s *CommandStrategy) stage(ctx context.Context, src content.Reference, dst string) error {
	r, err := s.store.OpenDecoded(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("stage %s: %w", src.URI, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("stage %s: %w", src.URI, err)
	}
	return f.Close()
}

func (s *CommandStrategy) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, exec.ErrNotFound):
		return failure.Unavailable(s.tool.Name(), err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%s failed: %w: %s", s.tool.Name(), err, strings.TrimSpace(stderr.String()))
	}
}

func (s *CommandStrategy) upload(ctx context.Context, src string, target content.Reference) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%s produced no output: %w", s.tool.Name(), err)
	}
	defer f.Close()

	w, err := s.store.Create(ctx, target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("upload %s: %w", target.URI, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("upload %s: %w", target.URI, err)
	}
	return n, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
