package raster

import (
	"encoding/binary"
	"fmt"
	"math"

	"rooflytics/pkg/geometry"
)

// Baseline and GeoTIFF tags read by Load.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagSamplesPerPixel     = 277
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// GeoKey ids.
const (
	keyModelType      = 1024
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelTypeGeographic = 2
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4, typeSRational: 8,
	typeFloat: 4, typeDouble: 8,
}

// ifdEntry is one directory entry with its value bytes resolved.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// uints decodes BYTE, SHORT and LONG values.
func (e ifdEntry) uints(bo binary.ByteOrder) []uint64 {
	out := make([]uint64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case typeByte, typeUndefined:
			out = append(out, uint64(e.value[i]))
		case typeShort:
			out = append(out, uint64(bo.Uint16(e.value[i*2:])))
		case typeLong:
			out = append(out, uint64(bo.Uint32(e.value[i*4:])))
		default:
			return nil
		}
	}
	return out
}

// floats decodes DOUBLE and FLOAT values.
func (e ifdEntry) floats(bo binary.ByteOrder) []float64 {
	out := make([]float64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case typeDouble:
			out = append(out, math.Float64frombits(bo.Uint64(e.value[i*8:])))
		case typeFloat:
			out = append(out, float64(math.Float32frombits(bo.Uint32(e.value[i*4:]))))
		default:
			return nil
		}
	}
	return out
}

// readIFD parses the first image file directory of a classic TIFF.
func readIFD(data []byte) (binary.ByteOrder, map[uint16]ifdEntry, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("file too short for a TIFF header")
	}

	// Read TIFF header to determine byte order
	var byteOrder binary.ByteOrder
	if data[0] == 'I' && data[1] == 'I' {
		byteOrder = binary.LittleEndian
	} else if data[0] == 'M' && data[1] == 'M' {
		byteOrder = binary.BigEndian
	} else {
		return nil, nil, fmt.Errorf("not a valid TIFF file")
	}
	if magic := byteOrder.Uint16(data[2:4]); magic != 42 {
		return nil, nil, fmt.Errorf("unsupported TIFF version %d", magic)
	}

	// Get offset to first IFD
	ifdOffset := int(byteOrder.Uint32(data[4:8]))
	if ifdOffset+2 > len(data) {
		return nil, nil, fmt.Errorf("IFD offset %d out of range", ifdOffset)
	}

	numEntries := int(byteOrder.Uint16(data[ifdOffset:]))
	if ifdOffset+2+numEntries*12 > len(data) {
		return nil, nil, fmt.Errorf("truncated IFD")
	}

	entries := make(map[uint16]ifdEntry, numEntries)
	for i := 0; i < numEntries; i++ {
		raw := data[ifdOffset+2+i*12 : ifdOffset+2+(i+1)*12]
		e := ifdEntry{
			tag:   byteOrder.Uint16(raw[0:2]),
			typ:   byteOrder.Uint16(raw[2:4]),
			count: byteOrder.Uint32(raw[4:8]),
		}

		size, ok := typeSizes[e.typ]
		if !ok {
			// Unknown types are skipped, as TIFF 6.0 requires
			continue
		}
		n := size * int(e.count)
		if n <= 4 {
			e.value = raw[8 : 8+n]
		} else {
			off := int(byteOrder.Uint32(raw[8:12]))
			if off < 0 || off+n > len(data) {
				return nil, nil, fmt.Errorf("tag %d value out of range", e.tag)
			}
			e.value = data[off : off+n]
		}
		entries[e.tag] = e
	}

	return byteOrder, entries, nil
}

// parseMetadata extracts the raster layout and georeference from a TIFF.
func parseMetadata(data []byte) (Metadata, error) {
	bo, tags, err := readIFD(data)
	if err != nil {
		return Metadata{}, err
	}

	first := func(tag uint16, fallback uint64) uint64 {
		e, ok := tags[tag]
		if !ok {
			return fallback
		}
		if v := e.uints(bo); len(v) > 0 {
			return v[0]
		}
		return fallback
	}

	meta := Metadata{
		Width:         int(first(tagImageWidth, 0)),
		Height:        int(first(tagImageLength, 0)),
		Bands:         int(first(tagSamplesPerPixel, 1)),
		BitsPerSample: int(first(tagBitsPerSample, 1)),
	}
	if meta.Width == 0 || meta.Height == 0 {
		return meta, fmt.Errorf("missing image dimensions")
	}
	if first(tagSampleFormat, 1) == 3 {
		meta.Float = true
	}

	transform, err := parseTransform(bo, tags)
	if err != nil {
		return meta, err
	}
	meta.Transform = transform

	if e, ok := tags[tagGeoKeyDirectory]; ok {
		meta.EPSG, meta.Geographic = parseGeoKeys(e.uints(bo))
		if meta.EPSG > 0 {
			meta.CRS = fmt.Sprintf("EPSG:%d", meta.EPSG)
		}
	}

	return meta, nil
}

// parseTransform reads ModelTransformation, or ModelPixelScale + ModelTiepoint.
func parseTransform(bo binary.ByteOrder, tags map[uint16]ifdEntry) (geometry.GeoTransform, error) {
	if e, ok := tags[tagModelTransformation]; ok {
		m := e.floats(bo)
		if len(m) < 16 {
			return geometry.GeoTransform{}, fmt.Errorf("ModelTransformation needs 16 values, got %d", len(m))
		}
		return geometry.GeoTransform{
			XScale: m[0], RowRot: m[1], XOrigin: m[3],
			ColRot: m[4], YScale: m[5], YOrigin: m[7],
		}, nil
	}

	scaleTag, hasScale := tags[tagModelPixelScale]
	tieTag, hasTie := tags[tagModelTiepoint]
	if !hasScale || !hasTie {
		return geometry.GeoTransform{}, fmt.Errorf("no georeferencing tags")
	}
	scale := scaleTag.floats(bo)
	tie := tieTag.floats(bo)
	if len(scale) < 2 || len(tie) < 6 {
		return geometry.GeoTransform{}, fmt.Errorf("malformed pixel scale or tiepoint")
	}

	// Tiepoint (i, j, k, x, y, z) pins raster (i, j) to ground (x, y)
	sx, sy := scale[0], scale[1]
	return geometry.NorthUp(tie[3]-tie[0]*sx, tie[4]+tie[1]*sy, sx, -sy), nil
}

// parseGeoKeys returns the EPSG code of the CRS and whether it is geographic.
func parseGeoKeys(dir []uint64) (int, bool) {
	if len(dir) < 4 {
		return 0, false
	}
	n := int(dir[3])
	geographic := false
	code := 0
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		key, loc, value := dir[4+i*4], dir[4+i*4+1], dir[4+i*4+3]
		if loc != 0 {
			continue
		}
		switch key {
		case keyModelType:
			geographic = value == modelTypeGeographic
		case keyProjectedType:
			code = int(value)
		case keyGeographicType:
			if code == 0 {
				code = int(value)
			}
		}
	}
	return code, geographic
}
