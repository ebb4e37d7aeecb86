package frame

// Channel-layout conversions for interleaved PCM frames.
//
// These allocate a fresh frame on every call. Components that convert on
// a hot path should reuse buffers instead; the wav file devices and the
// examples do not care.

// MonoToStereo duplicates every mono sample into a left/right pair.
func MonoToStereo(mono PCMFrame) PCMFrame {
	stereo := make(PCMFrame, 2*len(mono))
	for i, v := range mono {
		stereo[2*i] = v
		stereo[2*i+1] = v
	}
	return stereo
}

// StereoToMono averages each left/right pair into a single sample.
// A trailing unpaired sample is dropped.
func StereoToMono(stereo PCMFrame) PCMFrame {
	if len(stereo)%2 == 1 {
		stereo = stereo[:len(stereo)-1]
	}

	mono := make(PCMFrame, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[2*i] + stereo[2*i+1]) / 2
	}
	return mono
}
