package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Normalize converts w to mono at sampleRate. Multi-channel input is
// downmixed by averaging channels per frame; a rate mismatch is bridged with
// a bandlimited resampler and the result is trimmed or zero-padded so its
// duration matches the input. Already-normalized input is returned as is.
func Normalize(w Waveform, sampleRate int) (Waveform, error) {
	if sampleRate <= 0 {
		return Waveform{}, fmt.Errorf("normalize: invalid target rate %d", sampleRate)
	}
	if w.NumChannels() == 0 || w.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("normalize: %w", ErrUnsupportedFormat)
	}
	if w.Is(1, sampleRate) {
		return w, nil
	}

	mono := Downmix(w)
	if mono.SampleRate == sampleRate {
		return mono, nil
	}

	out, err := Resample(mono.Samples(), mono.SampleRate, sampleRate)
	if err != nil {
		return Waveform{}, fmt.Errorf("normalize: %w", err)
	}
	return Mono(sampleRate, out), nil
}

// Downmix averages all channels of w into one.
func Downmix(w Waveform) Waveform {
	if w.NumChannels() <= 1 {
		return w
	}
	n := w.Len()
	out := make([]float64, n)
	for _, ch := range w.Channels {
		for i, s := range ch {
			out[i] += s
		}
	}
	k := float64(w.NumChannels())
	for i := range out {
		out[i] /= k
	}
	return Mono(w.SampleRate, out)
}

// Resample converts mono samples from one rate to another. The output has
// exactly round(len(in) * to / from) samples and output sample k lines up
// with input time k/to seconds; the filter delay is measured and removed.
func Resample(in []float64, from, to int) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d->%d", from, to)
	}
	if from == to {
		return append([]float64(nil), in...), nil
	}
	want := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	if want == 0 {
		return []float64{}, nil
	}

	lead, err := leadFor(from, to)
	if err != nil {
		return nil, err
	}
	head := padFrames(from, to)
	padded := make([]float64, head+len(in)+head)
	copy(padded[head:], in)

	out, err := runResampler(padded, from, to)
	if err != nil {
		return nil, err
	}
	return window(out, lead, want), nil
}

// window returns out[off:off+n], zero-filling whatever lies outside out.
func window(out []float64, off, n int) []float64 {
	res := make([]float64, n)
	if off < len(out) {
		copy(res, out[max(off, 0):])
	}
	return res
}

type ratePair struct{ from, to int }

// leads caches, per rate pair, the output index that input index
// padFrames(from, to) lands on.
var leads sync.Map

// leadFor measures where an impulse placed after the head padding comes out
// of the resampler. The filter is linear and time invariant over whole
// polyphase periods, so the offset holds for any signal framed the same way.
func leadFor(from, to int) (int, error) {
	key := ratePair{from, to}
	if v, ok := leads.Load(key); ok {
		return v.(int), nil
	}

	head := padFrames(from, to)
	impulse := make([]float64, 3*head)
	impulse[head] = 1
	out, err := runResampler(impulse, from, to)
	if err != nil {
		return 0, err
	}
	peak, best := -1, 0.0
	for i, s := range out {
		if a := math.Abs(s); a > best {
			peak, best = i, a
		}
	}
	if peak < 0 {
		return 0, fmt.Errorf("resampling %d->%d: filter produced no output", from, to)
	}
	leads.Store(key, peak)
	return peak, nil
}

// padFrames is the silence added before and after the input: at least 100ms,
// rounded up to whole polyphase periods so that the head maps to an integer
// number of output samples.
func padFrames(from, to int) int {
	period := from / gcd(from, to)
	n := max(from/10, period)
	return (n + period - 1) / period * period
}

func runResampler(in []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("creating resampler %d->%d: %w", from, to, err)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resampling %d->%d: %w", from, to, err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resampling %d->%d: flushing: %w", from, to, err)
	}
	return append(out, rest...), nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
