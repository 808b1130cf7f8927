package mediasrc

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeVideoFixture(t *testing.T, path string, units []VideoUnit) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	for _, u := range units {
		var header [9]byte
		binary.BigEndian.PutUint32(header[0:4], uint32(len(u.AnnexB)+4))
		binary.BigEndian.PutUint32(header[4:8], u.Timestamp)
		if u.Keyframe {
			header[8] = 1
		}
		_, err := f.Write(header[:])
		require.NoError(t, err)
		_, err = f.Write(u.AnnexB)
		require.NoError(t, err)
	}
}

func TestVideoReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.bin")
	want := []VideoUnit{
		{Timestamp: 0, Keyframe: true, AnnexB: []byte{0, 0, 0, 1, 0x67, 0x01}},
		{Timestamp: 3000, Keyframe: false, AnnexB: []byte{0, 0, 0, 1, 0x41, 0x02}},
	}
	writeVideoFixture(t, path, want)

	r, err := OpenVideo(path)
	require.NoError(t, err)
	defer r.Close()

	for _, w := range want {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, w, got)
	}
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestAudioReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	frames := [][]byte{{0x01, 0x02, 0x03}, {0xAA, 0xBB}}
	for _, frame := range frames {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
		_, err := f.Write(lenBuf[:])
		require.NoError(t, err)
		_, err = f.Write(frame)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	r, err := OpenAudio(path)
	require.NoError(t, err)
	defer r.Close()

	for _, want := range frames {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}
