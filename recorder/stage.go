package recorder

import (
	"context"

	"github.com/rs/zerolog"

	"go2tv.app/screenrec/quality"
)

// stage is one encode strategy. Methods returning (bool, error) report
// whether a handle existed to act on.
type stage interface {
	configure(ctx context.Context, cfg EncoderConfig) (Surface, error)
	begin() error
	halt()

	stopDrain() (bool, error)
	stopCodec() (bool, error)
	releaseSurface() (bool, error)
	releaseCodec() (bool, error)
	releaseMuxer() (bool, error)
}

func newStage(cfg Config, spec quality.VideoSpec, log zerolog.Logger) stage {
	if cfg.Variant == VariantRecorder {
		return &recorderStage{factory: cfg.Recorders}
	}
	return &encoderStage{
		encoders:    cfg.Encoders,
		muxers:      cfg.Muxers,
		outputPath:  spec.OutputPath,
		idleWait:    cfg.DrainIdleWait,
		joinTimeout: cfg.DrainJoinTimeout,
		log:         log,
	}
}
