package transform

import (
	"fmt"
	"strconv"
	"time"

	"worknode/internal/content"
	"worknode/internal/protocol"
)

// Invocation describes one source-to-target conversion performed by an
// external tool on staged local files.
type Invocation struct {
	Input   string
	Output  string
	Source  content.Reference
	Target  content.Reference
	Options *protocol.TransformationOptions
	// Extra holds the tokenized Options.Params.
	Extra []string
}

// Tool turns an Invocation into a command line.
type Tool interface {
	Name() string
	Args(inv Invocation) []string
}

// ImageMagick builds arguments for the convert command.
type ImageMagick struct{}

func (ImageMagick) Name() string { return "imagemagick" }

func (ImageMagick) Args(inv Invocation) []string {
	opts := inv.Options
	input := inv.Input
	if v, ok := opts.For(protocol.KindPaged, inv.Source.MediaType); ok {
		p := v.(*protocol.PagedOptions)
		input += pageSelector(p)
	}
	args := []string{input}

	if v, ok := opts.For(protocol.KindCrop, inv.Source.MediaType); ok {
		c := v.(*protocol.CropOptions)
		args = append(args, "-crop", fmt.Sprintf("%dx%d+%d+%d", c.Width, c.Height, c.X, c.Y), "+repage")
	}
	if opts != nil && opts.Resize != nil {
		if g := resizeGeometry(opts.Resize); g != "" {
			args = append(args, "-resize", g)
		}
	}
	if opts != nil && opts.Quality > 0 {
		args = append(args, "-quality", strconv.Itoa(opts.Quality))
	}
	args = append(args, inv.Extra...)

	output := inv.Output
	if opts != nil && opts.Format != "" {
		output = opts.Format + ":" + output
	}
	return append(args, output)
}

// pageSelector converts 1-based pages to ImageMagick's 0-based frame syntax.
func pageSelector(p *protocol.PagedOptions) string {
	first := max(p.Page-1, 0)
	if p.Count > 1 {
		return fmt.Sprintf("[%d-%d]", first, first+p.Count-1)
	}
	return fmt.Sprintf("[%d]", first)
}

func resizeGeometry(r *protocol.ResizeOptions) string {
	if r.Scale > 0 {
		return strconv.FormatFloat(r.Scale*100, 'f', -1, 64) + "%"
	}
	switch {
	case r.Width > 0 && r.Height > 0:
		g := fmt.Sprintf("%dx%d", r.Width, r.Height)
		if !r.KeepAspect {
			g += "!"
		}
		return g
	case r.Width > 0:
		return strconv.Itoa(r.Width)
	case r.Height > 0:
		return "x" + strconv.Itoa(r.Height)
	}
	return ""
}

// FFmpeg builds arguments for the ffmpeg command.
type FFmpeg struct{}

func (FFmpeg) Name() string { return "ffmpeg" }

func (FFmpeg) Args(inv Invocation) []string {
	opts := inv.Options
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}

	var window *protocol.TemporalOptions
	if v, ok := opts.For(protocol.KindTemporal, inv.Source.MediaType); ok {
		window = v.(*protocol.TemporalOptions)
	}
	if window != nil && window.Start > 0 {
		args = append(args, "-ss", seconds(window.Start))
	}
	args = append(args, "-i", inv.Input)
	if window != nil && window.Duration > 0 {
		args = append(args, "-t", seconds(window.Duration))
	}

	if opts != nil && opts.Resize != nil {
		if f := scaleFilter(opts.Resize); f != "" {
			args = append(args, "-vf", f)
		}
	}
	args = append(args, inv.Extra...)
	if opts != nil && opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	return append(args, inv.Output)
}

func scaleFilter(r *protocol.ResizeOptions) string {
	if r.Scale > 0 {
		s := strconv.FormatFloat(r.Scale, 'f', -1, 64)
		return "scale=iw*" + s + ":ih*" + s
	}
	if r.Width <= 0 && r.Height <= 0 {
		return ""
	}
	// -2 keeps the aspect ratio with an even dimension, as most codecs need
	w, h := strconv.Itoa(r.Width), strconv.Itoa(r.Height)
	if r.Width <= 0 {
		w = "-2"
	}
	if r.Height <= 0 {
		h = "-2"
	}
	if r.KeepAspect && r.Width > 0 && r.Height > 0 {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", r.Width, r.Height)
	}
	return "scale=" + w + ":" + h
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
