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

// buildWAV constructs a minimal WAV file in memory with an optional chunk
// before the data.
func buildWAV(sampleRate uint32, bitsPerSample, numChannels uint16, samples []int16, extra string) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(samples) * 2)
	byteRate := sampleRate * uint32(numChannels) * uint32(bitsPerSample) / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, numChannels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bitsPerSample)

	if extra != "" {
		buf.WriteString("LIST")
		binary.Write(&buf, binary.LittleEndian, uint32(len(extra)))
		buf.WriteString(extra)
		if len(extra)%2 == 1 {
			buf.WriteByte(0)
		}
	}

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

func TestReadWAV_Valid(t *testing.T) {
	n := 100
	raw := make([]int16, n)
	for i := range raw {
		raw[i] = int16(16000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	samples, header, err := ReadWAV(bytes.NewReader(buildWAV(16000, 16, 1, raw, "abc")))
	if err != nil {
		t.Fatalf("ReadWAV error: %v", err)
	}
	if header.SampleRate != 16000 || header.NumChannels != 1 || header.BitsPerSample != 16 {
		t.Errorf("header = %+v", header)
	}
	if header.NumSamples != n || len(samples) != n {
		t.Fatalf("NumSamples = %d, len = %d, want %d", header.NumSamples, len(samples), n)
	}
	for i := range n {
		want := float64(raw[i]) / 32768.0
		if math.Abs(samples[i]-want) > 1e-10 {
			t.Errorf("samples[%d] = %f, want %f", i, samples[i], want)
		}
	}
}

func TestReadWAV_StereoDownmix(t *testing.T) {
	raw := []int16{1000, 3000, -2000, 0}
	samples, header, err := ReadWAV(bytes.NewReader(buildWAV(8000, 16, 2, raw, "")))
	if err != nil {
		t.Fatal(err)
	}
	if header.NumSamples != 2 || header.SampleRate != 8000 {
		t.Errorf("header = %+v", header)
	}
	want := []float64{2000.0 / 32768, -1000.0 / 32768}
	for i, w := range want {
		if math.Abs(samples[i]-w) > 1e-12 {
			t.Errorf("samples[%d] = %f, want %f", i, samples[i], w)
		}
	}
}

func TestReadWAV_Errors(t *testing.T) {
	noData := buildWAV(16000, 16, 1, nil, "")
	noData = noData[:len(noData)-8] // drop the data chunk header

	tests := []struct {
		name string
		data []byte
	}{
		{"not riff", []byte("NOT_RIFF_DATA_HERE_EXTRA")},
		{"8 bit", buildWAV(16000, 8, 1, []int16{0, 0}, "")},
		{"missing data", noData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadWAV(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrFormat) {
				t.Errorf("err = %v, want ErrFormat", err)
			}
		})
	}

	if _, _, err := ReadWAV(bytes.NewReader([]byte("RIF"))); err == nil || errors.Is(err, ErrFormat) {
		t.Errorf("truncated header: err = %v, want read error", err)
	}
}

func TestWriteWAV_RoundTrip(t *testing.T) {
	in := []float64{0, 0.5, -0.5, 1.5, -1.5}
	path := filepath.Join(t.TempDir(), "x.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, in, 16000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out, h, err := ReadWAVFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h.SampleRate != 16000 || len(out) != len(in) {
		t.Fatalf("header = %+v, len = %d", h, len(out))
	}
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768, -1}
	for i, w := range want {
		if math.Abs(out[i]-w) > 1e-9 {
			t.Errorf("out[%d] = %f, want %f", i, out[i], w)
		}
	}
}
