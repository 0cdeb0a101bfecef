package demux

import (
	"errors"
	"fmt"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// SPSInfo holds parameters extracted from an H.264 Sequence Parameter Set:
// resolution, profile/level identifiers, and the VUI bitstream restriction
// fields that bound how far the encoder may reorder frames.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	// MaxNumReorderFrames is the VUI max_num_reorder_frames value, valid
	// only when HasReorderInfo is set. It bounds how many frames can be
	// held back for presentation reordering, which in turn bounds the
	// window needed to resequence per-frame metadata like SEI messages.
	MaxNumReorderFrames int
	HasReorderInfo      bool
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

var errSPSTooShort = errors.New("SPS data too short")

// bitstream reads the RBSP bit by bit with a sticky error: after the first
// out-of-range read every method returns zero and the error is kept for the
// caller to inspect once the walk is done.
type bitstream struct {
	data []byte
	pos  int
	bit  int
	err  error
}

// u reads n bits as an unsigned value.
func (b *bitstream) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if b.err != nil {
			return 0
		}
		if b.pos >= len(b.data) {
			b.err = errSPSTooShort
			return 0
		}
		v = v<<1 | uint(b.data[b.pos]>>(7-b.bit))&1
		b.bit++
		if b.bit == 8 {
			b.bit = 0
			b.pos++
		}
	}
	return v
}

func (b *bitstream) flag() bool {
	return b.u(1) == 1
}

// ue reads an Exp-Golomb coded unsigned value.
func (b *bitstream) ue() uint {
	zeros := 0
	for !b.flag() {
		if b.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			b.err = errSPSTooShort
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + b.u(zeros)
}

// se reads an Exp-Golomb coded signed value.
func (b *bitstream) se() int {
	v := b.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int(v+1) / 2
}

func (b *bitstream) skipScalingList(size int) {
	last, next := 8, 8
	for i := 0; i < size; i++ {
		if next != 0 {
			next = (last + b.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

func (b *bitstream) skipHRD() {
	cpbCnt := b.ue()
	b.u(8) // bit_rate_scale + cpb_size_scale
	for i := uint(0); i <= cpbCnt; i++ {
		b.ue() // bit_rate_value_minus1
		b.ue() // cpb_size_value_minus1
		b.u(1) // cbr_flag
	}
	b.u(20) // four 5-bit delay length fields
}

// highProfile reports whether profile_idc gates the extended chroma and
// scaling fields of the SPS.
func highProfile(profileIdc uint) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit to extract resolution, profile/level,
// and the VUI bitstream restriction fields. The input should be the raw NAL
// data including the NAL header byte but without the start code.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}

	bs := &bitstream{data: removeEmulationPrevention(nalu[1:])}

	profileIdc := bs.u(8)
	constraintFlags := bs.u(8)
	levelIdc := bs.u(8)
	bs.ue() // seq_parameter_set_id

	chromaFormatIdc := uint(1)
	separateColourPlane := false
	if highProfile(profileIdc) {
		chromaFormatIdc = bs.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = bs.flag()
		}
		bs.ue()   // bit_depth_luma_minus8
		bs.ue()   // bit_depth_chroma_minus8
		bs.flag() // qpprime_y_zero_transform_bypass_flag
		if bs.flag() {
			count := 8
			if chromaFormatIdc == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				if bs.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					bs.skipScalingList(size)
				}
			}
		}
	}

	bs.ue() // log2_max_frame_num_minus4
	switch bs.ue() {
	case 0:
		bs.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		bs.flag() // delta_pic_order_always_zero_flag
		bs.se()   // offset_for_non_ref_pic
		bs.se()   // offset_for_top_to_bottom_field
		for i, n := uint(0), bs.ue(); i < n; i++ {
			bs.se()
		}
	}

	bs.ue()   // max_num_ref_frames
	bs.flag() // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := bs.ue()
	picHeightMapUnits := bs.ue()

	frameMbsOnly := uint(0)
	if bs.flag() {
		frameMbsOnly = 1
	} else {
		bs.flag() // mb_adaptive_frame_field_flag
	}
	bs.flag() // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if bs.flag() {
		cropLeft = bs.ue()
		cropRight = bs.ue()
		cropTop = bs.ue()
		cropBottom = bs.ue()
	}

	if bs.err != nil {
		return SPSInfo{}, bs.err
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	info := SPSInfo{
		Width:           int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight)),
		Height:          int((picHeightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}

	// Walk the VUI up to bitstream_restriction. Truncation along the way
	// just means the restriction fields are absent.
	if !bs.flag() || bs.err != nil {
		return info, nil
	}

	if bs.flag() { // aspect_ratio_info_present_flag
		if bs.u(8) == 255 { // Extended_SAR
			bs.u(32) // sar_width + sar_height
		}
	}
	if bs.flag() { // overscan_info_present_flag
		bs.flag()
	}
	if bs.flag() { // video_signal_type_present_flag
		bs.u(4) // video_format + video_full_range_flag
		if bs.flag() {
			bs.u(24) // colour primaries, transfer, matrix
		}
	}
	if bs.flag() { // chroma_loc_info_present_flag
		bs.ue()
		bs.ue()
	}
	if bs.flag() { // timing_info_present_flag
		bs.u(32) // num_units_in_tick
		bs.u(32) // time_scale
		bs.u(1)  // fixed_frame_rate_flag
	}

	nalHRD := bs.flag()
	if nalHRD {
		bs.skipHRD()
	}
	vclHRD := bs.flag()
	if vclHRD {
		bs.skipHRD()
	}
	if nalHRD || vclHRD {
		bs.flag() // low_delay_hrd_flag
	}
	bs.flag() // pic_struct_present_flag

	if !bs.flag() || bs.err != nil { // bitstream_restriction_flag
		return info, nil
	}

	bs.flag() // motion_vectors_over_pic_boundaries_flag
	bs.ue()   // max_bytes_per_pic_denom
	bs.ue()   // max_bits_per_mb_denom
	bs.ue()   // log2_max_mv_length_horizontal
	bs.ue()   // log2_max_mv_length_vertical

	maxReorder := bs.ue()
	if bs.err != nil {
		return info, nil
	}
	info.MaxNumReorderFrames = int(maxReorder)
	info.HasReorderInfo = true

	return info, nil
}

// removeEmulationPrevention strips 0x03 emulation prevention bytes from a
// NAL unit, yielding the raw RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// NALUnit represents a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit NAL type
	Data []byte // raw NAL data including the header byte, without start code
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units. Both
// 3-byte (0x000001) and 4-byte (0x00000001) start codes are recognized;
// bytes before the first start code are ignored and empty units between
// adjacent start codes are dropped.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	var units []NALUnit

	appendUnit := func(nal []byte) {
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}

	start := -1 // data offset of the unit being scanned, -1 before the first start code
	i := 0
	for i+2 < n {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		var next int
		switch {
		case data[i+2] == 1:
			next = i + 3
		case i+3 < n && data[i+2] == 0 && data[i+3] == 1:
			next = i + 4
		default:
			i++
			continue
		}
		if start >= 0 && i > start {
			appendUnit(data[start:i])
		}
		start = next
		i = next
	}
	if start >= 0 && start < n {
		appendUnit(data[start:])
	}
	return units
}

// IsKeyframe returns true if the NAL type is an IDR slice (type 5).
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}
