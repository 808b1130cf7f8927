// Package h264nal extracts SPS/PPS parameter sets from H.264 extradata and
// classifies NAL unit headers. The NAL type constants mirror the teacher's
// pkg/rtp/h264.go; the AVCC parsing recipe (profile/profile-compat/level,
// length-size byte, SPS/PPS count+length prefixes) follows §4.7 of the
// design, which in turn mirrors the avcC box layout ISO/IEC 14496-15
// defines and libavformat/rtcenc.c's ff_isom_write_avcc-style reader.
package h264nal

import (
	"encoding/binary"
	"fmt"

	"github.com/ethanmoon/whip-publish/pkg/whiprtc"
)

// NAL unit types (RFC 6184 §5.3 / ITU-T H.264 Table 7-1).
const (
	NALUTypeUnspecified = 0
	NALUTypeNonIDR      = 1
	NALUTypeIDR         = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24 // Single-Time Aggregation Packet
	NALUTypeFUA         = 28 // Fragmentation Unit A
)

// ParameterSets holds the SPS/PPS extracted from extradata plus the
// length-size the stream's AVCC NAL lengths are encoded with.
type ParameterSets struct {
	SPS           []byte
	PPS           []byte
	NALLengthSize int // 1, 2, or 4; AVCC only. 0 for Annex-B streams.
	AnnexB        bool
}

// startCode3 is the 3-byte Annex-B NAL boundary marker.
var startCode3 = []byte{0, 0, 1}

// ParseExtradata extracts SPS/PPS from H.264 extradata, per §4.7. AVCC
// (ISOM) extradata begins with a version byte of 1; anything else must
// contain an Annex-B start code somewhere, or parsing fails with
// KindInvalidArgument.
func ParseExtradata(extradata []byte) (ParameterSets, error) {
	if len(extradata) > 0 && extradata[0] == 1 {
		return parseAVCC(extradata)
	}
	if containsStartCode(extradata) {
		return ParameterSets{AnnexB: true}, nil
	}
	return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, "h264nal.ParseExtradata",
		fmt.Errorf("extradata is neither AVCC nor Annex-B (no start code found)"))
}

func containsStartCode(b []byte) bool {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			return true
		}
	}
	return false
}

// parseAVCC reads an AVCDecoderConfigurationRecord:
//
//	u8  configurationVersion (must be 1)
//	u8  AVCProfileIndication
//	u8  profile_compatibility
//	u8  AVCLevelIndication
//	u8  0xFC | (lengthSizeMinusOne)        -- low 2 bits => lengthSize-1
//	u8  0xE0 | numOfSequenceParameterSets  -- low 5 bits, must be 1
//	u16 sequenceParameterSetLength (BE)
//	..  sequenceParameterSetNALUnit
//	u8  numOfPictureParameterSets          -- must be 1
//	u16 pictureParameterSetLength (BE)
//	..  pictureParameterSetNALUnit
func parseAVCC(b []byte) (ParameterSets, error) {
	const op = "h264nal.parseAVCC"
	if len(b) < 7 {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("extradata too short: %d bytes", len(b)))
	}

	lengthSize := int(b[4]&0x3) + 1
	if lengthSize == 3 {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidData, op, fmt.Errorf("nal_length_size == 3 is invalid"))
	}

	numSPS := int(b[5] & 0x1F)
	if numSPS != 1 {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("expected exactly 1 SPS, got %d", numSPS))
	}

	off := 6
	if off+2 > len(b) {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("truncated SPS length"))
	}
	spsLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+spsLen > len(b) {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("truncated SPS body"))
	}
	sps := append([]byte(nil), b[off:off+spsLen]...)
	off += spsLen

	if off+1 > len(b) {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("truncated PPS count"))
	}
	numPPS := int(b[off])
	off++
	if numPPS != 1 {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("expected exactly 1 PPS, got %d", numPPS))
	}

	if off+2 > len(b) {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("truncated PPS length"))
	}
	ppsLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+ppsLen > len(b) {
		return ParameterSets{}, whiprtc.New(whiprtc.KindInvalidArgument, op, fmt.Errorf("truncated PPS body"))
	}
	pps := append([]byte(nil), b[off:off+ppsLen]...)

	return ParameterSets{SPS: sps, PPS: pps, NALLengthSize: lengthSize}, nil
}

// EncodeAVCCParameterSets re-encodes SPS/PPS as
// [len(SPS)][SPS][len(PPS)][PPS] with lengthSize-byte big-endian length
// prefixes. Used both by the keyframe prefixer (§4.7) and by the round-trip
// property test (§8 invariant 2).
func EncodeAVCCParameterSets(sps, pps []byte, lengthSize int) []byte {
	out := make([]byte, 0, lengthSize*2+len(sps)+len(pps))
	out = appendLengthPrefixed(out, sps, lengthSize)
	out = appendLengthPrefixed(out, pps, lengthSize)
	return out
}

func appendLengthPrefixed(dst, payload []byte, lengthSize int) []byte {
	n := len(payload)
	switch lengthSize {
	case 1:
		dst = append(dst, byte(n))
	case 2:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		dst = append(dst, b[:]...)
	case 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		dst = append(dst, b[:]...)
	}
	return append(dst, payload...)
}

// NALType returns the NAL unit type (low 5 bits) of a NAL unit's header
// byte.
func NALType(naluHeader byte) byte { return naluHeader & 0x1F }

// NRI returns the nal_ref_idc (bits 0x60) of a NAL unit's header byte.
func NRI(naluHeader byte) byte { return naluHeader & 0x60 }

// IsKeyframeNALType reports whether typ marks an IDR slice.
func IsKeyframeNALType(typ byte) bool { return typ == NALUTypeIDR }

// SplitAnnexB splits Annex-B bitstream data (extradata or an access unit)
// on 3- or 4-byte start codes, returning each NAL unit with the start
// code stripped.
func SplitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+3 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}
	if len(starts) == 0 {
		return nil
	}
	nalus := make([][]byte, 0, len(starts))
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1] - 3
			// Trim a trailing zero byte belonging to a 4-byte start code.
			if end > s && data[end-1] == 0 {
				end--
			}
		}
		if end > s {
			nalus = append(nalus, data[s:end])
		}
	}
	return nalus
}
