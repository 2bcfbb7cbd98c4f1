package shipping

import (
	"sort"

	"github.com/tradeyard/checkout-api/internal/domain"
)

// BoxClass is the coarse parcel size bucket used by carrier price tables.
type BoxClass string

const (
	// BoxClassS fits within 30x30x30 cm.
	BoxClassS BoxClass = "S"
	// BoxClassM fits within 40x60x30 cm.
	BoxClassM BoxClass = "M"
	// BoxClassL fits within 50x100x50 cm.
	BoxClassL BoxClass = "L"
	// BoxClassOverLimit marks an envelope no class can contain. It is a
	// value, not an error; carriers translate it to an undeliverable quote.
	BoxClassOverLimit BoxClass = "OVER_LIMIT"
)

// boxBounds are the class extents sorted descending so orientation does not
// matter when matching an envelope.
var boxBounds = []struct {
	class  BoxClass
	bounds [3]float64
}{
	{BoxClassS, [3]float64{30, 30, 30}},
	{BoxClassM, [3]float64{60, 40, 30}},
	{BoxClassL, [3]float64{100, 50, 50}},
}

// ClassifyBox computes the maximum-extent envelope across all items and
// returns the smallest class whose bounds contain it. Items may be rotated
// freely, so extents are compared axis-sorted. An empty item list classifies
// as S.
func ClassifyBox(items []domain.Dimensions) BoxClass {
	var envelope [3]float64
	for _, d := range items {
		ext := sortedExtents(d)
		for i := 0; i < 3; i++ {
			if ext[i] > envelope[i] {
				envelope[i] = ext[i]
			}
		}
	}
	for _, b := range boxBounds {
		if envelope[0] <= b.bounds[0] && envelope[1] <= b.bounds[1] && envelope[2] <= b.bounds[2] {
			return b.class
		}
	}
	return BoxClassOverLimit
}

func sortedExtents(d domain.Dimensions) [3]float64 {
	ext := []float64{d.Height, d.Width, d.Length}
	sort.Sort(sort.Reverse(sort.Float64Slice(ext)))
	return [3]float64{ext[0], ext[1], ext[2]}
}
