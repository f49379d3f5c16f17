package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// ImageExtractor decodes raster images and describes them.
type ImageExtractor struct {
	fs afero.Fs
}

// NewImageExtractor creates an ImageExtractor reading through fsys.
func NewImageExtractor(fsys afero.Fs) *ImageExtractor {
	return &ImageExtractor{fs: fsys}
}

// Extract decodes the image with EXIF orientation applied. Bytes that no
// registered decoder accepts are an ExtractionError.
func (e *ImageExtractor) Extract(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	raw, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, dwerrors.ExtractionError(path, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	avg := averageColor(img)

	md := Metadata{
		"Content-Type":  "image/" + format,
		"Image-Format":  format,
		"Width":         strconv.Itoa(width),
		"Height":        strconv.Itoa(height),
		"Color-Model":   colorModelName(img),
		"Average-Color": avg,
		"Size":          strconv.Itoa(len(raw)),
	}
	content := fmt.Sprintf("%s image %dx%d %s", format, width, height, orientation(width, height))
	return contentResult(path, content, md), nil
}

// averageColor shrinks the image to one pixel and returns it as #rrggbb.
func averageColor(img image.Image) string {
	if img.Bounds().Empty() {
		return "#000000"
	}
	px := imaging.Resize(img, 1, 1, imaging.Box)
	c := px.NRGBAAt(0, 0)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func colorModelName(img image.Image) string {
	if _, ok := img.ColorModel().(color.Palette); ok {
		return "paletted"
	}
	switch img.ColorModel() {
	case color.RGBAModel, color.NRGBAModel:
		return "rgba"
	case color.RGBA64Model, color.NRGBA64Model:
		return "rgba64"
	case color.GrayModel:
		return "gray"
	case color.Gray16Model:
		return "gray16"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	case color.AlphaModel, color.Alpha16Model:
		return "alpha"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", img), "*image.")
}

func orientation(w, h int) string {
	switch {
	case w > h:
		return "landscape"
	case h > w:
		return "portrait"
	default:
		return "square"
	}
}
