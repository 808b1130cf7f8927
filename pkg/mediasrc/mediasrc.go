// Package mediasrc reads pre-encoded access units from a simple
// length-prefixed framing so cmd/whip-publish has something concrete to
// feed the session without bundling a demuxer. Producing that framing
// (from an encoder, a recording, or a real container demuxer) is outside
// this module's scope; this package only knows how to read it back.
package mediasrc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// VideoUnit is one H.264 access unit as read from a video framing file.
type VideoUnit struct {
	Timestamp uint32
	Keyframe  bool
	AnnexB    []byte
}

// VideoReader reads sequential records of the form:
// [4-byte BE length][4-byte BE timestamp][1-byte keyframe flag][length-4 bytes Annex-B payload].
type VideoReader struct {
	r *bufio.Reader
	f *os.File
}

// OpenVideo opens a video framing file.
func OpenVideo(path string) (*VideoReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video source: %w", err)
	}
	return &VideoReader{r: bufio.NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (v *VideoReader) Close() error { return v.f.Close() }

// Next reads the next access unit, returning io.EOF when the file is
// exhausted.
func (v *VideoReader) Next() (VideoUnit, error) {
	var header [9]byte
	if _, err := io.ReadFull(v.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return VideoUnit{}, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	timestamp := binary.BigEndian.Uint32(header[4:8])
	keyframe := header[8] != 0

	if length < 4 {
		return VideoUnit{}, fmt.Errorf("mediasrc: record length %d too small", length)
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(v.r, payload); err != nil {
		return VideoUnit{}, fmt.Errorf("mediasrc: short payload read: %w", err)
	}
	return VideoUnit{Timestamp: timestamp, Keyframe: keyframe, AnnexB: payload}, nil
}

// AudioReader reads sequential records of the form:
// [4-byte BE length][length bytes Opus frame].
type AudioReader struct {
	r *bufio.Reader
	f *os.File
}

// OpenAudio opens an audio framing file.
func OpenAudio(path string) (*AudioReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	return &AudioReader{r: bufio.NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (a *AudioReader) Close() error { return a.f.Close() }

// Next reads the next Opus frame, returning io.EOF when the file is
// exhausted.
func (a *AudioReader) Next() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(a.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	frame := make([]byte, length)
	if _, err := io.ReadFull(a.r, frame); err != nil {
		return nil, fmt.Errorf("mediasrc: short frame read: %w", err)
	}
	return frame, nil
}
