package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"

	"github.com/disintegration/imaging"

	"worknode/internal/content"
	"worknode/internal/protocol"
	"worknode/internal/worker"
)

var ErrUnsupportedOptions = errors.New("options not supported by in-process transform")

var mediaTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

// ImageStrategy transforms still images in-process. It handles crop, resize
// and re-encoding; multi-page selection beyond the first page needs an
// external tool.
type ImageStrategy struct {
	store Store
}

var _ worker.Strategy[*protocol.TransformationRequest] = (*ImageStrategy)(nil)

func NewImageStrategy(store Store) *ImageStrategy {
	return &ImageStrategy{store: store}
}

func (s *ImageStrategy) Work(ctx context.Context, req *protocol.TransformationRequest, progress worker.Progress) ([]content.WorkResult, error) {
	if req.Options != nil && req.Options.Params != nil && strings.TrimSpace(*req.Options.Params) != "" {
		return nil, fmt.Errorf("%w: params", ErrUnsupportedOptions)
	}

	results := make([]content.WorkResult, 0, len(req.Sources))
	for i, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.transform(ctx, src, req.Targets[i], req.Options)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		progress.Report(float64(i+1) / float64(len(req.Sources)))
	}
	return results, nil
}

func (s *ImageStrategy) transform(ctx context.Context, src, target content.Reference, opts *protocol.TransformationOptions) (content.WorkResult, error) {
	if v, ok := opts.For(protocol.KindPaged, src.MediaType); ok {
		if p := v.(*protocol.PagedOptions); p.Page > 1 || p.Count > 1 {
			return content.WorkResult{}, fmt.Errorf("%w: page %d", ErrUnsupportedOptions, p.Page)
		}
	}

	format, err := targetFormat(target, opts)
	if err != nil {
		return content.WorkResult{}, err
	}

	r, err := s.store.OpenDecoded(ctx, src)
	if err != nil {
		return content.WorkResult{}, err
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	r.Close()
	if err != nil {
		return content.WorkResult{}, fmt.Errorf("decode %s: %w", src.URI, err)
	}

	if v, ok := opts.For(protocol.KindCrop, src.MediaType); ok {
		c := v.(*protocol.CropOptions)
		img = imaging.Crop(img, image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height))
	}
	if opts != nil && opts.Resize != nil {
		img = resize(img, opts.Resize)
	}

	var encOpts []imaging.EncodeOption
	if opts != nil && opts.Quality > 0 {
		encOpts = append(encOpts, imaging.JPEGQuality(opts.Quality))
	}

	w, err := s.store.Create(ctx, target)
	if err != nil {
		return content.WorkResult{}, err
	}
	if err := imaging.Encode(w, img, format, encOpts...); err != nil {
		w.Close()
		return content.WorkResult{}, fmt.Errorf("encode %s: %w", target.URI, err)
	}
	if err := w.Close(); err != nil {
		return content.WorkResult{}, fmt.Errorf("upload %s: %w", target.URI, err)
	}

	b := img.Bounds()
	res := content.NewWorkResult(target)
	res.Details[protocol.DetailTool] = "imaging"
	res.Details[protocol.DetailWidth] = b.Dx()
	res.Details[protocol.DetailHeight] = b.Dy()
	res.Details[protocol.DetailMediaType] = mediaTypes[format]
	return res, nil
}

func resize(img image.Image, r *protocol.ResizeOptions) image.Image {
	if r.Scale > 0 {
		b := img.Bounds()
		return imaging.Resize(img, int(float64(b.Dx())*r.Scale), 0, imaging.Lanczos)
	}
	switch {
	case r.Width <= 0 && r.Height <= 0:
		return img
	case r.KeepAspect && r.Width > 0 && r.Height > 0:
		return imaging.Fit(img, r.Width, r.Height, imaging.Lanczos)
	default:
		// a zero dimension keeps the aspect ratio
		return imaging.Resize(img, r.Width, r.Height, imaging.Lanczos)
	}
}

// targetFormat picks the output encoding from the explicit format option,
// then the target media type, then the target file extension.
func targetFormat(target content.Reference, opts *protocol.TransformationOptions) (imaging.Format, error) {
	if opts != nil && opts.Format != "" {
		return imaging.FormatFromExtension(opts.Format)
	}
	for f, mt := range mediaTypes {
		if target.MatchesMediaType(mt) {
			return f, nil
		}
	}
	f, err := imaging.FormatFromExtension(path.Ext(target.URI))
	if err != nil {
		return f, fmt.Errorf("target %s: %w", target.URI, err)
	}
	return f, nil
}
