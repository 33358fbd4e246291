package raster

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rooflytics/pkg/geometry"

	"github.com/airbusgeo/godal"
	"gocv.io/x/gocv"
)

var registerDrivers sync.Once

// SaveMask writes a single-band CV_8UC1 mask as a Deflate-compressed GeoTIFF
// carrying the transform and CRS of ref. The file is written to a temporary
// name and renamed, so a failed save leaves no partial output.
func SaveMask(path string, m gocv.Mat, ref Metadata) error {
	return save(path, m, gocv.MatTypeCV8UC1, 1, ref)
}

// SaveRGB writes a CV_8UC3 raster, channels in R, G, B order, the same way
// as SaveMask.
func SaveRGB(path string, m gocv.Mat, ref Metadata) error {
	return save(path, m, gocv.MatTypeCV8UC3, 3, ref)
}

func save(path string, m gocv.Mat, want gocv.MatType, bands int, ref Metadata) error {
	if m.Empty() {
		return fmt.Errorf("cannot save empty raster")
	}
	if m.Type() != want {
		return fmt.Errorf("raster must be %v, got %v", want, m.Type())
	}
	if err := ref.Transform.Validate(); err != nil {
		return fmt.Errorf("reference metadata: %w", err)
	}

	var pix []byte
	if m.IsContinuous() {
		data, err := m.DataPtrUint8()
		if err != nil {
			return err
		}
		pix = data
	} else {
		c := m.Clone()
		defer c.Close()
		pix = c.ToBytes()
	}

	meta := ref
	meta.Width, meta.Height = m.Cols(), m.Rows()
	meta.Bands, meta.BitsPerSample = bands, 8

	return writeAtomic(path, func(tmp string) error {
		return writeGeoTIFF(tmp, pix, meta)
	})
}

// writeAtomic writes through a temporary file in the target directory.
func writeAtomic(path string, write func(tmp string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := write(name); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Rename(name, path)
}

// writeGeoTIFF writes pixel-interleaved 8-bit samples through the GDAL GTiff
// driver. A zero transform writes no georeferencing tags; EPSG 0 writes no CRS.
func writeGeoTIFF(path string, pix []byte, meta Metadata) error {
	if meta.Bands < 1 || meta.Bands > 3 {
		return fmt.Errorf("unsupported band count %d", meta.Bands)
	}
	if len(pix) != meta.Width*meta.Height*meta.Bands {
		return fmt.Errorf("pixel buffer has %d bytes, want %d", len(pix), meta.Width*meta.Height*meta.Bands)
	}
	registerDrivers.Do(godal.RegisterAll)

	opts := []string{"COMPRESS=DEFLATE"}
	if meta.Bands == 3 {
		opts = append(opts, "PHOTOMETRIC=RGB")
	}
	ds, err := godal.Create(godal.GTiff, path, meta.Bands, godal.Byte, meta.Width, meta.Height,
		godal.CreationOption(opts...))
	if err != nil {
		return err
	}

	if err := describe(ds, meta); err != nil {
		ds.Close()
		return err
	}
	if err := ds.Write(0, 0, pix, meta.Width, meta.Height); err != nil {
		ds.Close()
		return err
	}
	return ds.Close()
}

func describe(ds *godal.Dataset, meta Metadata) error {
	if meta.Transform != (geometry.GeoTransform{}) {
		t := meta.Transform
		gt := [6]float64{t.XOrigin, t.XScale, t.RowRot, t.YOrigin, t.ColRot, t.YScale}
		if err := ds.SetGeoTransform(gt); err != nil {
			return fmt.Errorf("set transform: %w", err)
		}
	}
	if meta.EPSG > 0 {
		sr, err := godal.NewSpatialRefFromEPSG(meta.EPSG)
		if err != nil {
			return fmt.Errorf("unknown CRS EPSG:%d: %w", meta.EPSG, err)
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("set CRS: %w", err)
		}
	}
	return nil
}
