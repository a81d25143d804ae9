package audio

import "math"

// DefaultSilenceThreshold is the amplitude, as a fraction of full scale,
// at or below which a sample counts as silent.
const DefaultSilenceThreshold float32 = 0.0001

// Classify reports whether every sample of every channel in buf lies within
// threshold of zero. It returns ErrUnsupportedFormat, together with true,
// when the sample format cannot be inspected.
func Classify(buf Buffer, threshold float32) (bool, error) {
	switch buf.Format.Sample {
	case Float32:
		for _, s := range buf.F32 {
			if math.Abs(float64(s)) > float64(threshold) {
				return false, nil
			}
		}
		return true, nil
	case Int16:
		limit := int32(math.MaxInt16)
		if threshold < 1 {
			limit = int32(int16(threshold * math.MaxInt16))
		}
		for _, s := range buf.I16 {
			v := int32(s)
			if v < 0 {
				v = -v
			}
			if v > limit {
				return false, nil
			}
		}
		return true, nil
	default:
		return true, ErrUnsupportedFormat
	}
}

// IsSilent is Classify without the error: unsupported formats are silent.
func IsSilent(buf Buffer, threshold float32) bool {
	silent, _ := Classify(buf, threshold)
	return silent
}
