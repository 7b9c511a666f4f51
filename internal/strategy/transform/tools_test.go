package transform_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"worknode/internal/cmdline"
	"worknode/internal/content"
	"worknode/internal/protocol"
	"worknode/internal/strategy/transform"
)

func TestImageMagick_Args(t *testing.T) {
	extra, err := cmdline.Split(`-font Helvetica -pointsize 50 -draw "circle 100,100 150,150"`)
	assert.NoError(t, err)

	opts := &protocol.TransformationOptions{
		Resize:  &protocol.ResizeOptions{Width: 640, Height: 480},
		Quality: 80,
		Format:  "png",
	}
	opts.Set(&protocol.CropOptions{X: 5, Y: 10, Width: 100, Height: 50})
	opts.Set(&protocol.PagedOptions{Page: 2})

	inv := transform.Invocation{
		Input:   "/w/in-0.tiff",
		Output:  "/w/out-0.png",
		Source:  content.NewReference("file:///a.tiff", "image/tiff"),
		Target:  content.NewReference("file:///a.png", "image/png"),
		Options: opts,
		Extra:   extra,
	}

	assert.Equal(t, []string{
		"/w/in-0.tiff[1]",
		"-crop", "100x50+5+10", "+repage",
		"-resize", "640x480!",
		"-quality", "80",
		"-font", "Helvetica", "-pointsize", "50", "-draw", "circle 100,100 150,150",
		"png:/w/out-0.png",
	}, transform.ImageMagick{}.Args(inv))
}

func TestImageMagick_ResizeGeometry(t *testing.T) {
	tests := []struct {
		name   string
		resize protocol.ResizeOptions
		want   string
	}{
		{"keep aspect", protocol.ResizeOptions{Width: 200, Height: 100, KeepAspect: true}, "200x100"},
		{"width only", protocol.ResizeOptions{Width: 200}, "200"},
		{"height only", protocol.ResizeOptions{Height: 100}, "x100"},
		{"scale", protocol.ResizeOptions{Scale: 0.5}, "50%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.resize
			args := transform.ImageMagick{}.Args(transform.Invocation{
				Input: "in", Output: "out", Options: &protocol.TransformationOptions{Resize: &r},
			})
			assert.Equal(t, []string{"in", "-resize", tt.want, "out"}, args)
		})
	}
}

func TestImageMagick_IgnoresOptionsForOtherMedia(t *testing.T) {
	opts := &protocol.TransformationOptions{}
	opts.Set(&protocol.CropOptions{Width: 1, Height: 1})
	opts.Set(&protocol.PagedOptions{Page: 3, Count: 2})

	args := transform.ImageMagick{}.Args(transform.Invocation{
		Input: "in.pdf", Output: "out.png",
		Source:  content.NewReference("file:///doc.pdf", "application/pdf"),
		Options: opts,
	})
	assert.Equal(t, []string{"in.pdf[2-3]", "out.png"}, args)
}

func TestFFmpeg_Args(t *testing.T) {
	opts := &protocol.TransformationOptions{Resize: &protocol.ResizeOptions{Width: 1280}, Format: "mp4"}
	opts.Set(&protocol.TemporalOptions{Start: 90 * time.Second, Duration: 1500 * time.Millisecond})

	args := transform.FFmpeg{}.Args(transform.Invocation{
		Input: "/w/in-0.mov", Output: "/w/out-0.mp4",
		Source:  content.NewReference("s3://m/a.mov", "video/quicktime"),
		Options: opts,
		Extra:   []string{"-an"},
	})

	assert.Equal(t, []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", "90",
		"-i", "/w/in-0.mov",
		"-t", "1.5",
		"-vf", "scale=1280:-2",
		"-an",
		"-f", "mp4",
		"/w/out-0.mp4",
	}, args)
}

func TestFFmpeg_NoOptions(t *testing.T) {
	args := transform.FFmpeg{}.Args(transform.Invocation{Input: "in.wav", Output: "out.ogg"})
	assert.Equal(t, []string{"-y", "-hide_banner", "-loglevel", "error", "-i", "in.wav", "out.ogg"}, args)
}
