package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatExtensible = 0xFFFE
	encodeDepth         = 16
)

// subFormatSuffix is the tail shared by the KSDATAFORMAT_SUBTYPE GUIDs; the
// first two bytes carry the plain format tag.
var subFormatSuffix = []byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

// Decode reads an integer PCM or 32-bit IEEE float WAV stream, plain or
// WAVE_FORMAT_EXTENSIBLE, into a Waveform. Anything else yields an error
// wrapping ErrUnsupportedFormat.
func Decode(r io.ReadSeeker) (Waveform, error) {
	tag, err := formatTag(r)
	if err != nil {
		return Waveform{}, fmt.Errorf("decoding wav: %v: %w", err, ErrUnsupportedFormat)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Waveform{}, fmt.Errorf("decoding wav: rewinding: %w", err)
	}

	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Waveform{}, fmt.Errorf("decoding wav: %w", ErrUnsupportedFormat)
	}
	channels := int(d.NumChans)
	depth := int(d.BitDepth)
	switch {
	case tag == wavFormatPCM && depth >= 8 && depth <= 32:
	case tag == wavFormatFloat && depth == 32:
	default:
		return Waveform{}, fmt.Errorf("decoding wav: audio format %#04x, %d bit: %w", tag, depth, ErrUnsupportedFormat)
	}
	if channels < 1 || d.SampleRate == 0 {
		return Waveform{}, fmt.Errorf("decoding wav: %d channels at %d Hz: %w", channels, d.SampleRate, ErrUnsupportedFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("decoding wav: %v: %w", err, ErrUnsupportedFormat)
	}

	frames := len(buf.Data) / channels
	w := Silence(int(d.SampleRate), channels, frames)
	sample := pcmSample(depth)
	if tag == wavFormatFloat {
		sample = floatSample
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			w.Channels[c][i] = sample(buf.Data[i*channels+c])
		}
	}
	return w, nil
}

func pcmSample(depth int) func(int) float64 {
	scale := float64(int64(1) << (depth - 1))
	// 8-bit WAV is unsigned.
	var offset float64
	if depth == 8 {
		offset = 128
	}
	return func(v int) float64 { return (float64(v) - offset) / scale }
}

// floatSample undoes the decoder reading 32-bit float samples as int32.
func floatSample(v int) float64 {
	return float64(math.Float32frombits(uint32(int32(v))))
}

// formatTag walks the RIFF chunks to the fmt chunk and returns its format
// tag, resolved through the subformat GUID for WAVE_FORMAT_EXTENSIBLE.
func formatTag(r io.Reader) (uint16, error) {
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, err
	}
	if p.Format != riff.WavFormatID {
		return 0, fmt.Errorf("riff form %q", p.Format[:])
	}
	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("no fmt chunk: %w", err)
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		var base struct {
			Tag           uint16
			Channels      uint16
			SampleRate    uint32
			ByteRate      uint32
			BlockAlign    uint16
			BitsPerSample uint16
		}
		if err := ch.ReadLE(&base); err != nil {
			return 0, fmt.Errorf("fmt chunk: %w", err)
		}
		if base.Tag != wavFormatExtensible {
			return base.Tag, nil
		}
		var ext struct {
			Size        uint16
			ValidBits   uint16
			ChannelMask uint32
			SubFormat   [16]byte
		}
		if ch.Size < 40 {
			return 0, fmt.Errorf("extensible fmt chunk of %d bytes", ch.Size)
		}
		if err := ch.ReadLE(&ext); err != nil {
			return 0, fmt.Errorf("fmt extension: %w", err)
		}
		if !bytes.Equal(ext.SubFormat[2:], subFormatSuffix) {
			return 0, fmt.Errorf("unknown subformat %x", ext.SubFormat)
		}
		return binary.LittleEndian.Uint16(ext.SubFormat[:2]), nil
	}
}

// Encode writes w as 16-bit PCM WAV.
func Encode(ws io.WriteSeeker, w Waveform) error {
	channels := w.NumChannels()
	if channels == 0 || w.SampleRate <= 0 {
		return fmt.Errorf("encoding wav: empty waveform")
	}

	frames := w.Len()
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			data[i*channels+c] = toPCM16(w.Channels[c][i])
		}
	}

	e := wav.NewEncoder(ws, w.SampleRate, encodeDepth, channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: encodeDepth,
	}
	if err := e.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("encoding wav: closing: %w", err)
	}
	return nil
}

// EncodeFile creates path and writes w into it.
func EncodeFile(path string, w Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Encode(f, w); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toPCM16(s float64) int {
	v := math.Round(s * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int(v)
}
