package labels

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"segwriter/internal/models"
)

// Palette is an ordered list of display colours. Labels take colours by
// emission order, wrapping around at the end.
type Palette []models.Color

// tableau20 is the Tableau 20 categorical palette.
var tableau20 = [20][3]float64{
	{31, 119, 180}, {174, 199, 232}, {255, 127, 14}, {255, 187, 120},
	{44, 160, 44}, {152, 223, 138}, {214, 39, 40}, {255, 152, 150},
	{148, 103, 189}, {197, 176, 213}, {140, 86, 75}, {196, 156, 148},
	{227, 119, 194}, {247, 182, 210}, {127, 127, 127}, {199, 199, 199},
	{188, 189, 34}, {219, 219, 141}, {23, 190, 207}, {158, 218, 229},
}

// Tableau20 returns a fresh copy of the default palette.
func Tableau20() Palette {
	p := make(Palette, len(tableau20))
	for i, rgb := range tableau20 {
		p[i] = models.Color{Space: models.RGB, Values: rgb}
	}
	return p
}

// At returns the colour for emission index i.
func (p Palette) At(i int) models.Color {
	return p[i%len(p)]
}

// DICOMLab converts a colour to the DICOM CIELab encoding: L* 0..100 and
// a*, b* -128..127 linearly scaled to 0..65535 under the D50 white point.
func DICOMLab(c models.Color) [3]int {
	if c.Space == models.CIELab {
		return [3]int{clampUS(c.Values[0]), clampUS(c.Values[1]), clampUS(c.Values[2])}
	}

	rgb := colorful.Color{R: c.Values[0] / 255, G: c.Values[1] / 255, B: c.Values[2] / 255}
	// go-colorful scales L* and a*/b* down by 100
	l, a, b := rgb.LabWhiteRef(colorful.D50)
	return [3]int{
		clampUS(l * 65535),
		clampUS((a*100 + 128) * 65535 / 255),
		clampUS((b*100 + 128) * 65535 / 255),
	}
}

func clampUS(v float64) int {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return int(v)
}
