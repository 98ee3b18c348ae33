// ABOUTME: Linear-interpolation resampler for mismatched source sample rates
// ABOUTME: Lets the engine normalize any source to the negotiated stream rate
package audio

// Resampler converts interleaved samples between sample rates by linear
// interpolation. Fractional playback position carries across calls so
// chunk boundaries don't introduce audible discontinuities.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
}

// NewResampler creates a resampler from inputRate to outputRate.
func NewResampler(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// Resample fills output from input, returning the number of samples
// (not frames) written.
func (r *Resampler) Resample(input, output []Sample) int {
	if len(input) == 0 {
		return 0
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels
	outIdx := 0

	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames-1 {
			break
		}

		frac := r.position - float64(inputIdx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := input[inputIdx*r.channels+ch]
			s2 := input[(inputIdx+1)*r.channels+ch]
			interpolated := float64(s1)*(1.0-frac) + float64(s2)*frac
			output[outIdx*r.channels+ch] = Sample(interpolated)
		}

		outIdx++
		r.position += r.ratio
	}

	r.position -= float64(int(r.position))
	return outIdx * r.channels
}

// Reset clears accumulated fractional position, e.g. after a source swap.
func (r *Resampler) Reset() {
	r.position = 0.0
}

// InputSamplesNeeded estimates how many input samples are required to
// produce the given number of output samples.
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}

// ResampledSource wraps a Source and converts its output to targetRate.
type ResampledSource struct {
	source     Source
	resampler  *Resampler
	targetRate int
	inputBuf   []Sample
}

// NewResampledSource wraps source, resampling to targetRate on every Read.
func NewResampledSource(source Source, targetRate int) *ResampledSource {
	inputRate := source.SampleRate()
	channels := source.Channels()
	inputSamples := (inputRate * channels * 100) / 1000 // 100ms scratch buffer

	return &ResampledSource{
		source:     source,
		resampler:  NewResampler(inputRate, targetRate, channels),
		targetRate: targetRate,
		inputBuf:   make([]Sample, inputSamples),
	}
}

func (r *ResampledSource) Read(samples []Sample) (int, error) {
	needed := r.resampler.InputSamplesNeeded(len(samples))
	if needed > len(r.inputBuf) {
		needed = len(r.inputBuf)
	}

	n, err := r.source.Read(r.inputBuf[:needed])
	if err != nil {
		return 0, err
	}

	return r.resampler.Resample(r.inputBuf[:n], samples), nil
}

func (r *ResampledSource) SampleRate() int { return r.targetRate }
func (r *ResampledSource) Channels() int   { return r.source.Channels() }
func (r *ResampledSource) Metadata() (string, string, string) {
	return r.source.Metadata()
}
func (r *ResampledSource) Close() error { return r.source.Close() }
