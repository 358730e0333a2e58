package media

import "math"

// VAD is an energy-based voice activity detector over 16-bit LE PCM frames.
// It keeps two hysteresis counters: consecutive frames above the RMS
// threshold and consecutive frames below it. The triggered flag clears only
// after ReleaseFrames quiet frames in a row, so brief dips in energy do not
// flicker the detector.
//
// Not safe for concurrent use; each call's receive loop owns its VAD.
type VAD struct {
	Threshold        float64 // RMS activation threshold
	ActivationFrames int     // loud frames needed to trigger
	ReleaseFrames    int     // quiet frames needed to release

	active    int
	silence   int
	triggered bool
}

// NewVAD returns a detector starting in the released (idle) state.
func NewVAD(threshold float64, activation, release int) *VAD {
	return &VAD{
		Threshold:        threshold,
		ActivationFrames: activation,
		ReleaseFrames:    release,
		silence:          release,
	}
}

// Triggered reports whether the detector currently considers the caller
// to be speaking.
func (v *VAD) Triggered() bool { return v.triggered }

// AddChunk feeds one PCM frame and reports the rising edge: it returns
// true exactly once per activation, when the loud-frame counter reaches
// ActivationFrames. This is the barge-in signal.
func (v *VAD) AddChunk(chunk []byte) bool {
	if len(chunk) < 2 {
		return false
	}
	if len(chunk)%2 != 0 {
		chunk = chunk[:len(chunk)-1]
	}
	rms := frameRMS(chunk)

	if rms >= v.Threshold {
		v.active++
		v.silence = 0
	} else {
		v.silence++
		if v.active > 0 {
			v.active--
		}
	}

	if !v.triggered && v.active >= v.ActivationFrames {
		v.triggered = true
		v.silence = 0
		return true
	}
	if v.triggered && v.silence >= v.ReleaseFrames {
		v.triggered = false
		v.active = 0
	}
	return false
}

// Reset returns the detector to its initial released state.
func (v *VAD) Reset() {
	v.active = 0
	v.silence = v.ReleaseFrames
	v.triggered = false
}

func frameRMS(chunk []byte) float64 {
	var sum float64
	n := len(chunk) / 2
	for i := 0; i < n; i++ {
		s := int16(uint16(chunk[2*i]) | uint16(chunk[2*i+1])<<8)
		sum += float64(s) * float64(s)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
