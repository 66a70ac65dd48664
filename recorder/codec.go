package recorder

import (
	"context"
	"time"

	"go2tv.app/screenrec/quality"
)

// MIMEVideoAVC identifies H.264 elementary streams.
const MIMEVideoAVC = "video/avc"

// OutputKind classifies the result of polling an encoder.
type OutputKind int

const (
	// OutputTryAgain means no output was ready.
	OutputTryAgain OutputKind = iota
	// OutputFormatChanged means the output format is now known.
	OutputFormatChanged
	// OutputBuffer carries one encoded buffer.
	OutputBuffer
)

// BufferFlags annotate encoded buffers.
type BufferFlags uint32

const (
	FlagKeyFrame BufferFlags = 1 << iota
	// FlagCodecConfig marks parameter sets that belong in the container
	// header rather than the sample stream.
	FlagCodecConfig
	FlagEndOfStream
)

// BufferInfo locates an encoded sample inside its buffer.
type BufferInfo struct {
	Offset           int
	Size             int
	PresentationTime time.Duration
	Flags            BufferFlags
}

// Output is one poll result from an Encoder.
type Output struct {
	Kind  OutputKind
	Index int
	Data  []byte
	Info  BufferInfo
}

// Format describes the encoder's output once codec parameters are known.
type Format struct {
	MIME      string
	Width     int
	Height    int
	FrameRate int
	BitRate   int
	SPS       [][]byte
	PPS       [][]byte
}

// EncoderConfig configures a raw encoder or a platform recorder.
type EncoderConfig struct {
	Spec           quality.VideoSpec
	Source         Source
	IFrameInterval time.Duration
	IncludeAudio   bool
}

// Encoder is a video encoder with surface input and a polled output queue.
type Encoder interface {
	Configure(cfg EncoderConfig) error
	InputSurface() (Surface, error)
	Start() error
	// Dequeue polls the output queue without waiting.
	Dequeue() (Output, error)
	OutputFormat() (Format, error)
	ReleaseOutput(index int) error
	Stop() error
	Release() error
}

// EncoderFactory creates encoders.
type EncoderFactory interface {
	NewEncoder(ctx context.Context) (Encoder, error)
}

// Muxer writes encoded samples into a container file.
type Muxer interface {
	AddTrack(format Format) (int, error)
	Start() error
	WriteSample(track int, data []byte, info BufferInfo) error
	Stop() error
	Release() error
}

// MuxerFactory creates a container writer for an output path.
type MuxerFactory interface {
	NewMuxer(path string) (Muxer, error)
}

// PlatformRecorder encodes and muxes internally.
type PlatformRecorder interface {
	Configure(cfg EncoderConfig) error
	InputSurface() (Surface, error)
	Start() error
	Stop() error
	Release() error
}

// RecorderFactory creates platform recorders.
type RecorderFactory interface {
	NewRecorder(ctx context.Context) (PlatformRecorder, error)
}
