package ffmpeg

import (
	"bytes"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	naluAUD  = []byte{0x09, 0xf0}
	naluSPS  = []byte{0x67, 0x42, 0xc0, 0x1f, 0xda}
	naluPPS  = []byte{0x68, 0xce, 0x3c, 0x80}
	naluSEI  = []byte{0x06, 0x05, 0x01, 0x80}
	naluIDR  = []byte{0x65, 0x88, 0x84, 0x21, 0xa0}
	naluP    = []byte{0x41, 0x9a, 0x02, 0x10}
	shortSC  = []byte{0, 0, 1}
	testGOPs = 2
)

func annexB(nalus ...[]byte) []byte {
	var b bytes.Buffer
	for i, n := range nalus {
		if i%2 == 0 {
			b.Write(startCode)
		} else {
			b.Write(shortSC)
		}
		b.Write(n)
	}
	return b.Bytes()
}

// testStream is testGOPs groups of one IDR picture and two P pictures.
func testStream() []byte {
	var nalus [][]byte
	for range testGOPs {
		nalus = append(nalus, naluAUD, naluSPS, naluPPS, naluSEI, naluIDR)
		nalus = append(nalus, naluAUD, naluP)
		nalus = append(nalus, naluAUD, naluP)
	}
	return annexB(nalus...)
}

func collect(t *testing.T, data []byte, oneByte bool) []*accessUnit {
	t.Helper()
	r := bytes.NewReader(data)
	var units []*accessUnit
	var err error
	if oneByte {
		err = readAccessUnits(iotest.OneByteReader(r), func(au *accessUnit) bool {
			units = append(units, au)
			return true
		})
	} else {
		err = readAccessUnits(r, func(au *accessUnit) bool {
			units = append(units, au)
			return true
		})
	}
	require.NoError(t, err)
	return units
}

func TestReadAccessUnits(t *testing.T) {
	for _, oneByte := range []bool{false, true} {
		units := collect(t, testStream(), oneByte)
		require.Len(t, units, 3*testGOPs)

		first := units[0]
		assert.True(t, first.keyFrame)
		assert.Equal(t, [][]byte{naluSPS}, first.sps)
		assert.Equal(t, [][]byte{naluPPS}, first.pps)
		assert.Equal(t, [][]byte{naluAUD, naluSPS, naluPPS, naluSEI, naluIDR}, first.nalus)

		assert.False(t, units[1].keyFrame)
		assert.Empty(t, units[1].sps)
		assert.Equal(t, [][]byte{naluAUD, naluP}, units[2].nalus)
		assert.True(t, units[3].keyFrame)
	}
}

func TestReadAccessUnits_SkipsLeadingGarbageAndEmptyUnits(t *testing.T) {
	data := append([]byte{0xde, 0xad}, annexB(naluAUD, naluSEI, naluAUD, naluIDR)...)
	units := collect(t, data, false)
	require.Len(t, units, 1)
	assert.True(t, units[0].keyFrame)
}

func TestReadAccessUnits_StopsWhenEmitDeclines(t *testing.T) {
	calls := 0
	err := readAccessUnits(bytes.NewReader(testStream()), func(*accessUnit) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAccessUnit_AnnexBRoundTrip(t *testing.T) {
	units := collect(t, testStream(), false)
	again := collect(t, units[0].annexB(), false)
	require.Len(t, again, 1)
	assert.Equal(t, units[0].nalus, again[0].nalus)
}
