// Package raster loads and saves georeferenced GeoTIFF rasters.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"os"

	"rooflytics/internal/errs"
	"rooflytics/pkg/geometry"

	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"
)

// Metadata describes a raster's layout and georeference.
type Metadata struct {
	Width         int                   `json:"width"`
	Height        int                   `json:"height"`
	Bands         int                   `json:"bands"`
	BitsPerSample int                   `json:"bits_per_sample"`
	Float         bool                  `json:"float,omitempty"`
	Transform     geometry.GeoTransform `json:"transform"`
	CRS           string                `json:"crs,omitempty"` // "EPSG:<code>", empty when unknown
	EPSG          int                   `json:"epsg,omitempty"`
	Geographic    bool                  `json:"geographic,omitempty"`
}

// PixelCount returns Width*Height.
func (m Metadata) PixelCount() int {
	return m.Width * m.Height
}

// PixelAreaM2 returns the ground area of one pixel.
func (m Metadata) PixelAreaM2() float64 {
	return m.Transform.PixelAreaM2()
}

// Raster is a loaded raster. Data is CV_32FC3 (R, G, B) for colour rasters and
// CV_32FC1 for masks, holding raw sample values. Rasters are read-only once
// loaded.
type Raster struct {
	Path string
	Data gocv.Mat
	Meta Metadata
}

// Close releases the pixel data.
func (r *Raster) Close() {
	if r != nil {
		r.Data.Close()
	}
}

// Rows returns the raster height.
func (r *Raster) Rows() int { return r.Data.Rows() }

// Cols returns the raster width.
func (r *Raster) Cols() int { return r.Data.Cols() }

// Load reads a GeoTIFF. With isMask set the first band is returned as a
// single-channel raster; otherwise bands 1..3 are returned as R, G, B and
// rasters with fewer than three bands are rejected.
func Load(path string, isMask bool) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.InputNotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	meta, err := parseMetadata(data)
	if err != nil {
		return nil, &errs.FormatError{Path: path, Reason: "unreadable GeoTIFF header", Err: err}
	}
	if !isMask && meta.Bands < 3 {
		return nil, errs.Format(path, "colour raster needs at least 3 bands, got %d", meta.Bands)
	}
	if err := meta.Transform.Validate(); err != nil {
		return nil, &errs.FormatError{Path: path, Reason: "degenerate transform", Err: err}
	}
	if meta.Float {
		return nil, errs.Format(path, "floating-point samples are not supported")
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &errs.FormatError{Path: path, Reason: "undecodable pixel data", Err: err}
	}

	r, err := FromImage(img, meta, isMask)
	if err != nil {
		return nil, &errs.FormatError{Path: path, Reason: "unsupported pixel layout", Err: err}
	}
	r.Path = path
	return r, nil
}

// ReadMetadata returns the layout and georeference of a GeoTIFF without
// decoding its pixels.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, &errs.InputNotFoundError{Path: path, Err: err}
		}
		return Metadata{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	meta, err := parseMetadata(data)
	if err != nil {
		return Metadata{}, &errs.FormatError{Path: path, Reason: "unreadable GeoTIFF header", Err: err}
	}
	return meta, nil
}

// FromImage converts a decoded image into a raster with the given metadata.
// Width and Height in meta are taken from the image.
func FromImage(img image.Image, meta Metadata, isMask bool) (*Raster, error) {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty image")
	}
	meta.Width, meta.Height = cols, rows

	channels := 3
	matType := gocv.MatTypeCV32FC3
	if isMask {
		channels = 1
		matType = gocv.MatTypeCV32FC1
	}

	out := gocv.NewMatWithSize(rows, cols, matType)
	dst, err := out.DataPtrFloat32()
	if err != nil {
		out.Close()
		return nil, err
	}

	samples := sampler(img)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px := samples(b.Min.X+x, b.Min.Y+y)
			i := (y*cols + x) * channels
			for c := 0; c < channels; c++ {
				dst[i+c] = px[c]
			}
		}
	}

	return &Raster{Data: out, Meta: meta}, nil
}

// New allocates a zero raster, mainly for building synthetic scenes.
func New(rows, cols int, isMask bool, meta Metadata) *Raster {
	matType, bands := gocv.MatTypeCV32FC3, 3
	if isMask {
		matType, bands = gocv.MatTypeCV32FC1, 1
	}
	meta.Width, meta.Height = cols, rows
	if meta.Bands == 0 {
		meta.Bands = bands
	}
	return &Raster{
		Data: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, matType),
		Meta: meta,
	}
}

// sampler returns a function yielding the raw R, G, B samples of a pixel.
// Grey images repeat their single band.
func sampler(img image.Image) func(x, y int) [3]float32 {
	switch im := img.(type) {
	case *image.Gray:
		return func(x, y int) [3]float32 {
			v := float32(im.Pix[im.PixOffset(x, y)])
			return [3]float32{v, v, v}
		}
	case *image.Gray16:
		return func(x, y int) [3]float32 {
			v := float32(binary.BigEndian.Uint16(im.Pix[im.PixOffset(x, y):]))
			return [3]float32{v, v, v}
		}
	case *image.RGBA:
		return func(x, y int) [3]float32 {
			p := im.Pix[im.PixOffset(x, y):]
			return [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
		}
	case *image.NRGBA:
		return func(x, y int) [3]float32 {
			p := im.Pix[im.PixOffset(x, y):]
			return [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
		}
	case *image.RGBA64:
		return func(x, y int) [3]float32 {
			p := im.Pix[im.PixOffset(x, y):]
			return [3]float32{
				float32(binary.BigEndian.Uint16(p[0:])),
				float32(binary.BigEndian.Uint16(p[2:])),
				float32(binary.BigEndian.Uint16(p[4:])),
			}
		}
	case *image.NRGBA64:
		return func(x, y int) [3]float32 {
			p := im.Pix[im.PixOffset(x, y):]
			return [3]float32{
				float32(binary.BigEndian.Uint16(p[0:])),
				float32(binary.BigEndian.Uint16(p[2:])),
				float32(binary.BigEndian.Uint16(p[4:])),
			}
		}
	default:
		// Paletted and other models are reduced to 8 bits per channel
		return func(x, y int) [3]float32 {
			r, g, b, _ := img.At(x, y).RGBA()
			return [3]float32{float32(r >> 8), float32(g >> 8), float32(b >> 8)}
		}
	}
}
