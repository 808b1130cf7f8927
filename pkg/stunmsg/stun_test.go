package stunmsg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildBindingRequestShape(t *testing.T) {
	wire, tid := BuildBindingRequest("remoteUfrag", "localUfrag", "P")
	require.Len(t, tid, 12)

	// Magic cookie at bytes 4..7.
	require.Equal(t, uint32(0x2112A442), binary.BigEndian.Uint32(wire[4:8]))

	require.Equal(t, ClassBindingRequest, Classify(wire))
	require.True(t, VerifyFingerprint(wire))
	require.True(t, VerifyMessageIntegrity(wire, "P"))
	require.False(t, VerifyMessageIntegrity(wire, "wrong-password"))
}

func TestBuildBindingResponseCopiesTransactionID(t *testing.T) {
	_, tid := BuildBindingRequest("a", "b", "pw")
	resp := BuildBindingResponse(tid, "localpw")

	require.Equal(t, ClassBindingResponse, Classify(resp))
	require.Equal(t, tid, TransactionID(resp))
	require.True(t, VerifyFingerprint(resp))
	require.True(t, VerifyMessageIntegrity(resp, "localpw"))
}

func TestClassifyOtherDatagram(t *testing.T) {
	require.Equal(t, ClassOther, Classify([]byte{0x80, 0x00}))
	require.Equal(t, ClassOther, Classify(nil))
}
