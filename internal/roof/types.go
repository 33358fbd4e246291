// Package roof defines the per-roof record threaded through the analysis stages.
package roof

import (
	"encoding/json"
	"fmt"
)

// ThermalClass is the hot/cool label assigned to a roof.
type ThermalClass int

const (
	// Unclassified marks a roof that has not been clustered yet.
	Unclassified ThermalClass = iota
	// Hot roofs absorb more heat (lower reflectance).
	Hot
	// Cool roofs reflect more sunlight (higher reflectance).
	Cool
)

func (c ThermalClass) String() string {
	switch c {
	case Hot:
		return "hot"
	case Cool:
		return "cool"
	default:
		return "unclassified"
	}
}

// RasterValue returns the value written to the thermal class raster:
// 0 background, 1 hot, 2 cool.
func (c ThermalClass) RasterValue() uint8 {
	switch c {
	case Hot:
		return 1
	case Cool:
		return 2
	default:
		return 0
	}
}

// MarshalJSON encodes the class by name.
func (c ThermalClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a class name.
func (c *ThermalClass) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "hot":
		*c = Hot
	case "cool":
		*c = Cool
	case "unclassified", "":
		*c = Unclassified
	default:
		return fmt.Errorf("unknown thermal class %q", s)
	}
	return nil
}

// Roof is one connected component of the cleaned roof mask.
//
// Label indexes the job's single Labeling and has no meaning across jobs.
// AreaM2 = PixelArea * pixel area of the source transform. Cluster and Class
// are set by thermal clustering; Cluster is -1 until then.
type Roof struct {
	Label             int          `json:"label"`
	PixelArea         int          `json:"area_pixels"`
	MeanReflectance   float64      `json:"mean_reflectance"`
	MedianReflectance float64      `json:"median_reflectance"`
	AreaM2            float64      `json:"area_m2"`
	Cluster           int          `json:"cluster"`
	Class             ThermalClass `json:"type"`
}

// Classified reports whether the roof has a thermal class.
func (r Roof) Classified() bool {
	return r.Class == Hot || r.Class == Cool
}
