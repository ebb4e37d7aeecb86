package codec

import "math"

// AdjustFrameDuration maps a target frame duration in milliseconds onto
// a duration the codec described by d actually accepts:
//
//  1. Quantize: round up to the next multiple of FrameQuantaMs.
//  2. Clamp: cap at FrameMaxMs.
//  3. Snap: replace with the nearest entry of ValidFrameMs.
//
// The order matters. Clamping can invalidate an otherwise valid
// quantized value, and when the codec only accepts discrete sizes the
// snap is the final authority.
func AdjustFrameDuration(targetMs float64, d Descriptor) float64 {
	adjusted := targetMs

	if d.FrameQuantaMs > 0 {
		multiples := adjusted / d.FrameQuantaMs
		if multiples != math.Trunc(multiples) {
			adjusted = math.Ceil(multiples) * d.FrameQuantaMs
		}
	}

	if d.FrameMaxMs > 0 && adjusted > d.FrameMaxMs {
		adjusted = d.FrameMaxMs
	}

	if len(d.ValidFrameMs) > 0 {
		nearest := d.ValidFrameMs[0]
		for _, valid := range d.ValidFrameMs[1:] {
			if math.Abs(valid-adjusted) < math.Abs(nearest-adjusted) {
				nearest = valid
			}
		}
		adjusted = nearest
	}

	return adjusted
}
