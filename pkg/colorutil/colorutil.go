// Package colorutil provides the colours of rendered previews.
package colorutil

import "image/color"

// Thermal preview colours.
var (
	Background = color.NRGBA{R: 0, G: 0, B: 0, A: 255}
	Hot        = color.NRGBA{R: 220, G: 40, B: 30, A: 255}
	Cool       = color.NRGBA{R: 40, G: 90, B: 220, A: 255}
)

// ThermalClass returns the colour of a class raster value: 1 hot, 2 cool,
// anything else background.
func ThermalClass(v uint8) color.NRGBA {
	switch v {
	case 1:
		return Hot
	case 2:
		return Cool
	default:
		return Background
	}
}
