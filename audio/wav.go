// Package audio reads 16-bit PCM WAV files into normalised samples.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrFormat is returned for WAV data this package cannot decode.
var ErrFormat = errors.New("audio: unsupported wav format")

// WAVHeader holds the parsed RIFF/WAV header fields.
type WAVHeader struct {
	SampleRate    uint32
	BitsPerSample uint16
	NumChannels   uint16
	NumSamples    int // samples per channel
}

// ReadWAV reads 16-bit PCM WAV data and returns samples in [-1.0, 1.0].
// Multi-channel audio is averaged down to mono.
func ReadWAV(r io.ReadSeeker) ([]float64, WAVHeader, error) {
	var header WAVHeader

	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, header, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, header, fmt.Errorf("%w: not a RIFF/WAVE file", ErrFormat)
	}

	var fmtFound bool
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, header, fmt.Errorf("audio: read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			if err := readFmtChunk(r, chunk.Size, &header); err != nil {
				return nil, header, err
			}
			fmtFound = true

		case "data":
			if !fmtFound {
				return nil, header, fmt.Errorf("%w: data chunk before fmt chunk", ErrFormat)
			}
			samples, err := readDataChunk(r, chunk.Size, &header)
			return samples, header, err

		default:
			// chunks are word aligned
			skip := int64(chunk.Size) + int64(chunk.Size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, header, fmt.Errorf("audio: skip chunk %q: %w", chunk.ID, err)
			}
		}
	}

	if !fmtFound {
		return nil, header, fmt.Errorf("%w: missing fmt chunk", ErrFormat)
	}
	return nil, header, fmt.Errorf("%w: missing data chunk", ErrFormat)
}

// ReadWAVFile is a convenience wrapper that opens a file path.
func ReadWAVFile(path string) ([]float64, WAVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVHeader{}, err
	}
	defer f.Close()
	samples, h, err := ReadWAV(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return samples, h, nil
}

func readFmtChunk(r io.ReadSeeker, size uint32, h *WAVHeader) error {
	var f struct {
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}
	const consumed = 16
	if size < consumed {
		return fmt.Errorf("%w: fmt chunk of %d bytes", ErrFormat, size)
	}
	if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
		return fmt.Errorf("audio: read fmt chunk: %w", err)
	}
	if f.AudioFormat != 1 {
		return fmt.Errorf("%w: audio format %d (only PCM=1 supported)", ErrFormat, f.AudioFormat)
	}
	if f.NumChannels == 0 || f.SampleRate == 0 {
		return fmt.Errorf("%w: %d channels at %d Hz", ErrFormat, f.NumChannels, f.SampleRate)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("%w: %d bits per sample (only 16 supported)", ErrFormat, f.BitsPerSample)
	}
	h.NumChannels, h.SampleRate, h.BitsPerSample = f.NumChannels, f.SampleRate, f.BitsPerSample

	extra := int64(size-consumed) + int64(size%2)
	if extra > 0 {
		if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
			return fmt.Errorf("audio: skip extra fmt bytes: %w", err)
		}
	}
	return nil
}

func readDataChunk(r io.Reader, size uint32, h *WAVHeader) ([]float64, error) {
	channels := int(h.NumChannels)
	frames := int(size) / (2 * channels)
	h.NumSamples = frames

	raw := make([]int16, frames*channels)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("audio: read PCM data: %w", err)
	}

	samples := make([]float64, frames)
	scale := 1 / (32768.0 * float64(channels))
	for i := range samples {
		sum := 0.0
		for c := range channels {
			sum += float64(raw[i*channels+c])
		}
		samples[i] = sum * scale
	}
	return samples, nil
}

// WriteWAV writes mono samples in [-1.0, 1.0] as 16-bit PCM. Values outside
// the range are clipped.
func WriteWAV(w io.Writer, samples []float64, sampleRate uint32) error {
	dataSize := uint32(len(samples) * 2)
	hdr := struct {
		RIFF     [4]byte
		Size     uint32
		WAVE     [4]byte
		FmtID    [4]byte
		FmtSize  uint32
		Format   uint16
		Channels uint16
		Rate     uint32
		ByteRate uint32
		Align    uint16
		Bits     uint16
		DataID   [4]byte
		DataSize uint32
	}{
		RIFF: [4]byte{'R', 'I', 'F', 'F'}, Size: 36 + dataSize, WAVE: [4]byte{'W', 'A', 'V', 'E'},
		FmtID: [4]byte{'f', 'm', 't', ' '}, FmtSize: 16, Format: 1, Channels: 1,
		Rate: sampleRate, ByteRate: sampleRate * 2, Align: 2, Bits: 16,
		DataID: [4]byte{'d', 'a', 't', 'a'}, DataSize: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("audio: write header: %w", err)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(max(-1, min(s, 32767.0/32768)) * 32768)
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("audio: write PCM data: %w", err)
	}
	return nil
}
