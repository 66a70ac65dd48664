// Package mp4mux writes H.264 samples into a fragmented MP4 file. The file
// only appears at its final path once Stop has written every fragment.
package mp4mux

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "go2tv.app/screenrec/internal/log"
	"go2tv.app/screenrec/recorder"
)

const timescale = 90000

var (
	ErrTrackExists     = errors.New("mp4mux: only one video track is supported")
	ErrUnsupportedMIME = errors.New("mp4mux: unsupported track format")
	ErrNotStarted      = errors.New("mp4mux: muxer not started")
	ErrFinished        = errors.New("mp4mux: muxer already stopped")
	ErrNoSamples       = errors.New("mp4mux: no samples were written")
	ErrUnknownTrack    = errors.New("mp4mux: unknown track")
)

// Factory creates muxers for output paths.
type Factory struct {
	log zerolog.Logger
}

var _ recorder.MuxerFactory = (*Factory)(nil)

func NewFactory(log *zerolog.Logger) *Factory {
	l := xlog.WithComponent("mp4mux")
	if log != nil {
		l = log.With().Str(xlog.FieldComponent, "mp4mux").Logger()
	}
	return &Factory{log: l}
}

// NewMuxer stages a file next to path.
func (f *Factory) NewMuxer(path string) (recorder.Muxer, error) {
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("mp4mux: create pending file: %w", err)
	}
	return &Muxer{
		path: path,
		pf:   pf,
		w:    bufio.NewWriterSize(pf, 256<<10),
		log:  f.log.With().Str(xlog.FieldPath, path).Logger(),
	}, nil
}

// Muxer holds each sample until the next one arrives so its duration is
// known, and starts a new fragment at every key frame.
type Muxer struct {
	path string
	pf   *renameio.PendingFile
	w    *bufio.Writer
	log  zerolog.Logger

	init     *mp4.InitSegment
	trackID  uint32
	frameDur uint32

	started  bool
	finished bool
	released bool

	pending *mp4.FullSample
	frag    *mp4.Fragment
	seq     uint32
	samples int
	lastDTS uint64
}

var _ recorder.Muxer = (*Muxer)(nil)

func (m *Muxer) AddTrack(format recorder.Format) (int, error) {
	if m.init != nil {
		return -1, ErrTrackExists
	}
	if format.MIME != recorder.MIMEVideoAVC || len(format.SPS) == 0 || len(format.PPS) == 0 {
		return -1, fmt.Errorf("%w: %s", ErrUnsupportedMIME, format.MIME)
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	trak := init.Moov.Trak
	if err := trak.SetAVCDescriptor("avc1", format.SPS, format.PPS, true); err != nil {
		return -1, fmt.Errorf("mp4mux: avc descriptor: %w", err)
	}

	m.init = init
	m.trackID = trak.Tkhd.TrackID
	m.frameDur = timescale / 30
	if format.FrameRate > 0 {
		m.frameDur = uint32(timescale / format.FrameRate)
	}
	return 0, nil
}

func (m *Muxer) Start() error {
	switch {
	case m.finished:
		return ErrFinished
	case m.init == nil:
		return fmt.Errorf("%w: no track added", ErrNotStarted)
	case m.started:
		return nil
	}
	if err := m.init.Encode(m.w); err != nil {
		return fmt.Errorf("mp4mux: write init segment: %w", err)
	}
	m.started = true
	return nil
}

// WriteSample takes one Annex-B access unit. Parameter sets and access unit
// delimiters are dropped because the sample description carries them.
func (m *Muxer) WriteSample(track int, data []byte, info recorder.BufferInfo) error {
	switch {
	case m.finished:
		return ErrFinished
	case !m.started:
		return ErrNotStarted
	case track != 0:
		return fmt.Errorf("%w: %d", ErrUnknownTrack, track)
	}

	payload := lengthPrefixed(data)
	if len(payload) == 0 {
		return nil
	}

	dts := uint64(info.PresentationTime * timescale / time.Second)
	if m.pending != nil && dts <= m.lastDTS {
		dts = m.lastDTS + 1
	}
	flags := uint32(mp4.NonSyncSampleFlags)
	if info.Flags&recorder.FlagKeyFrame != 0 {
		flags = mp4.SyncSampleFlags
	}
	next := &mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Size:  uint32(len(payload)),
		},
		DecodeTime: dts,
		Data:       payload,
	}

	if m.pending != nil {
		if err := m.commit(uint32(dts - m.pending.DecodeTime)); err != nil {
			return err
		}
	}
	m.pending = next
	m.lastDTS = dts
	return nil
}

// commit appends the held sample with duration dur.
func (m *Muxer) commit(dur uint32) error {
	s := m.pending
	m.pending = nil
	if dur == 0 {
		dur = m.frameDur
	}
	s.Dur = dur

	if s.Flags == mp4.SyncSampleFlags && m.frag != nil {
		if err := m.flush(); err != nil {
			return err
		}
	}
	if m.frag == nil {
		m.seq++
		frag, err := mp4.CreateFragment(m.seq, m.trackID)
		if err != nil {
			return fmt.Errorf("mp4mux: create fragment: %w", err)
		}
		m.frag = frag
	}
	m.frag.AddFullSample(*s)
	m.samples++
	return nil
}

func (m *Muxer) flush() error {
	if m.frag == nil {
		return nil
	}
	frag := m.frag
	m.frag = nil
	if err := frag.Encode(m.w); err != nil {
		return fmt.Errorf("mp4mux: write fragment %d: %w", m.seq, err)
	}
	return nil
}

// Stop writes the remaining samples and moves the file into place. A muxer
// that never received a sample leaves no file behind.
func (m *Muxer) Stop() error {
	if m.finished {
		return nil
	}
	if !m.started {
		return ErrNotStarted
	}
	m.finished = true

	if m.pending != nil {
		if err := m.commit(m.frameDur); err != nil {
			return err
		}
	}
	if m.samples == 0 {
		return ErrNoSamples
	}
	if err := m.flush(); err != nil {
		return err
	}
	if err := m.w.Flush(); err != nil {
		return fmt.Errorf("mp4mux: flush: %w", err)
	}
	if err := m.pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("mp4mux: finalize: %w", err)
	}
	m.log.Info().
		Str(xlog.FieldEvent, "mp4mux.finalized").
		Int("samples", m.samples).
		Uint32("fragments", m.seq).
		Msg("recording written")
	return nil
}

// Release discards the staged file unless Stop already moved it into place.
func (m *Muxer) Release() error {
	if m.released {
		return nil
	}
	m.released = true
	m.finished = true
	m.pending = nil
	m.frag = nil
	return m.pf.Cleanup()
}

// lengthPrefixed converts an Annex-B access unit to the 4-byte length
// prefixed form stored in MP4 samples.
func lengthPrefixed(annexB []byte) []byte {
	nalus := avc.ExtractNalusFromByteStream(annexB)
	size := 0
	for _, n := range nalus {
		if keepNALU(n) {
			size += 4 + len(n)
		}
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		if !keepNALU(n) {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

func keepNALU(n []byte) bool {
	if len(n) == 0 {
		return false
	}
	switch avc.GetNaluType(n[0]) {
	case avc.NALU_AUD, avc.NALU_SPS, avc.NALU_PPS:
		return false
	}
	return true
}
