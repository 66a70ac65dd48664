package ffmpeg

import (
	"bufio"
	"bytes"
	"io"

	"github.com/Eyevinn/mp4ff/avc"
)

var startCode = []byte{0, 0, 0, 1}

// splitNALUnits is a bufio.SplitFunc yielding NAL units from an Annex-B byte
// stream, without their start codes.
func splitNALUnits(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, startCode[1:])
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a possible partial start code.
		if len(data) > 2 {
			return len(data) - 2, nil, nil
		}
		return 0, nil, nil
	}
	payload := start + 3

	next := bytes.Index(data[payload:], startCode[1:])
	if next < 0 {
		if !atEOF {
			return start, nil, nil
		}
		if payload == len(data) {
			return len(data), nil, nil
		}
		return len(data), data[payload:], nil
	}
	end := payload + next
	return end, bytes.TrimRight(data[payload:end], "\x00"), nil
}

// accessUnit is one coded picture with the NAL units that precede it.
type accessUnit struct {
	nalus    [][]byte
	keyFrame bool
	sps, pps [][]byte
}

func (au *accessUnit) add(nalu []byte) {
	switch avc.GetNaluType(nalu[0]) {
	case avc.NALU_IDR:
		au.keyFrame = true
	case avc.NALU_SPS:
		au.sps = append(au.sps, nalu)
	case avc.NALU_PPS:
		au.pps = append(au.pps, nalu)
	}
	au.nalus = append(au.nalus, nalu)
}

func (au *accessUnit) hasPicture() bool {
	for _, n := range au.nalus {
		switch avc.GetNaluType(n[0]) {
		case avc.NALU_IDR, avc.NALU_NON_IDR:
			return true
		}
	}
	return false
}

// annexB renders the unit back to a byte stream with 4-byte start codes.
func (au *accessUnit) annexB() []byte {
	size := 0
	for _, n := range au.nalus {
		size += len(startCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range au.nalus {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

// readAccessUnits groups the NAL units read from r into access units, one
// per access unit delimiter, and hands each to emit. It stops when emit
// returns false or r is exhausted.
func readAccessUnits(r io.Reader, emit func(*accessUnit) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxAccessUnitSize)
	sc.Split(splitNALUnits)

	cur := &accessUnit{}
	for sc.Scan() {
		tok := sc.Bytes()
		if len(tok) == 0 {
			continue
		}
		nalu := append([]byte(nil), tok...)
		if avc.GetNaluType(nalu[0]) == avc.NALU_AUD && len(cur.nalus) > 0 {
			if cur.hasPicture() && !emit(cur) {
				return nil
			}
			cur = &accessUnit{}
		}
		cur.add(nalu)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if cur.hasPicture() {
		emit(cur)
	}
	return nil
}
