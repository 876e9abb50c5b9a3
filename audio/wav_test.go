package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	in := Waveform{
		SampleRate: 44100,
		Channels: [][]float64{
			sine(44100, 441, 440),
			sine(44100, 441, 880),
		},
	}
	if err := EncodeFile(path, in); err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SampleRate != 44100 || got.NumChannels() != 2 || got.Len() != 441 {
		t.Fatalf("got %d ch, %d frames @ %d Hz", got.NumChannels(), got.Len(), got.SampleRate)
	}
	for c := range in.Channels {
		for i := range in.Channels[c] {
			if d := math.Abs(got.Channels[c][i] - in.Channels[c][i]); d > 1.0/16384 {
				t.Fatalf("ch %d sample %d off by %v", c, i, d)
			}
		}
	}
}

func TestDecodeRejectsNonWAV(t *testing.T) {
	tests := map[string][]byte{
		"empty": nil,
		"mp3":   []byte("ID3\x03\x00\x00\x00\x00\x00\x21not really an mp3"),
		"text":  bytes.Repeat([]byte("hello "), 32),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(data))
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

// rawWAV lays out a canonical RIFF/WAVE file by hand so the fmt chunk can
// carry tags the encoder never writes.
func rawWAV(tag uint16, subFormat uint16, channels, rate, bits int, samples any) []byte {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, samples)

	var fmtChunk bytes.Buffer
	blockAlign := channels * bits / 8
	binary.Write(&fmtChunk, binary.LittleEndian, struct {
		Tag, Channels    uint16
		Rate, ByteRate   uint32
		BlockAlign, Bits uint16
	}{tag, uint16(channels), uint32(rate), uint32(rate * blockAlign), uint16(blockAlign), uint16(bits)})
	if tag == wavFormatExtensible {
		binary.Write(&fmtChunk, binary.LittleEndian, struct {
			Size, ValidBits uint16
			ChannelMask     uint32
			SubFormat       uint16
		}{22, uint16(bits), 0x4, subFormat})
		fmtChunk.Write(subFormatSuffix)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+data.Len()))
	out.WriteString("WAVEfmt ")
	binary.Write(&out, binary.LittleEndian, uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	pcm := []int16{0, 16384, -16384, 32767}
	float := []float32{0, 0.5, -0.5, 0.25}
	tests := []struct {
		name string
		wav  []byte
		want []float64
	}{
		{"pcm", rawWAV(wavFormatPCM, 0, 1, 16000, 16, pcm), []float64{0, 0.5, -0.5, 32767.0 / 32768}},
		{"extensible pcm", rawWAV(wavFormatExtensible, wavFormatPCM, 1, 16000, 16, pcm), []float64{0, 0.5, -0.5, 32767.0 / 32768}},
		{"float", rawWAV(wavFormatFloat, 0, 1, 16000, 32, float), []float64{0, 0.5, -0.5, 0.25}},
		{"extensible float", rawWAV(wavFormatExtensible, wavFormatFloat, 1, 16000, 32, float), []float64{0, 0.5, -0.5, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Decode(bytes.NewReader(tt.wav))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if w.SampleRate != 16000 || w.NumChannels() != 1 {
				t.Fatalf("got %d ch @ %d Hz", w.NumChannels(), w.SampleRate)
			}
			got := w.Samples()
			if len(got) != len(tt.want) {
				t.Fatalf("samples = %v, want %v", got, tt.want)
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Fatalf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeFloatStereo(t *testing.T) {
	w, err := Decode(bytes.NewReader(rawWAV(wavFormatFloat, 0, 2, 8000, 32, []float32{0.1, -0.1, 0.2, -0.2})))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if w.NumChannels() != 2 || w.Len() != 2 {
		t.Fatalf("got %d ch, %d frames", w.NumChannels(), w.Len())
	}
	if float32(w.Channels[0][1]) != 0.2 || float32(w.Channels[1][1]) != -0.2 {
		t.Fatalf("channels = %v", w.Channels)
	}
}

func TestDecodeRejectsOtherFormats(t *testing.T) {
	tests := map[string][]byte{
		"mp3 in wav":            rawWAV(0x0055, 0, 1, 16000, 16, []int16{1, 2}),
		"extensible mp3":        rawWAV(wavFormatExtensible, 0x0055, 1, 16000, 16, []int16{1, 2}),
		"64-bit float":          rawWAV(wavFormatFloat, 0, 1, 16000, 64, []float64{0.5, 0.25}),
		"truncated extension":   rawWAV(wavFormatExtensible, wavFormatPCM, 1, 16000, 16, []int16{1, 2})[:40],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(data))
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := EncodeFile(path, Waveform{}); err == nil {
		t.Fatal("expected error")
	}
}
