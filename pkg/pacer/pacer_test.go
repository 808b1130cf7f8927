package pacer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPacerDeliversInTimestampOrderAndHonorsDeadline(t *testing.T) {
	var delivered []uint32
	writeVideo := func(payload [][]byte, timestamp uint32, keyframe bool) error {
		delivered = append(delivered, timestamp)
		return nil
	}
	writeAudio := func(payload [][]byte, timestamp uint32, keyframe bool) error { return nil }

	p := New(t.Context(), zerolog.Nop(), 90000, 48000, writeVideo, writeAudio)
	p.Start()
	defer p.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.EnqueueVideo(Unit{Timestamp: uint32(i * 3000), Payload: [][]byte{{0x65}}}))
	}

	require.Eventually(t, func() bool { return len(delivered) == 3 }, time.Second, time.Millisecond)
	require.Equal(t, []uint32{0, 3000, 6000}, delivered)
}

func TestPacerCapsExcessiveDelay(t *testing.T) {
	done := make(chan struct{})
	writeVideo := func(payload [][]byte, timestamp uint32, keyframe bool) error {
		if timestamp == 90000*60 {
			close(done)
		}
		return nil
	}
	writeAudio := func(payload [][]byte, timestamp uint32, keyframe bool) error { return nil }

	p := New(t.Context(), zerolog.Nop(), 90000, 48000, writeVideo, writeAudio)
	p.Start()
	defer p.Stop()

	require.NoError(t, p.EnqueueVideo(Unit{Timestamp: 0, Payload: [][]byte{{0x65}}}))
	// A huge timestamp jump would otherwise compute a multi-second delay;
	// maxPacketDelay caps it so this enqueue still delivers quickly.
	require.NoError(t, p.EnqueueVideo(Unit{Timestamp: 90000 * 60, Payload: [][]byte{{0x65}}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second unit was not delivered within the capped delay window")
	}
}
