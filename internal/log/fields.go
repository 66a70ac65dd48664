package log

// Canonical field name constants for structured logging.
const (
	FieldSessionID = "session_id"
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldVariant   = "variant"
	FieldStep      = "step"

	FieldOldState = "old_state"
	FieldNewState = "new_state"

	FieldCodec      = "codec"
	FieldEncoder    = "encoder"
	FieldResolution = "resolution"
	FieldBitrate    = "bitrate_bps"
	FieldFPS        = "fps"
	FieldPath       = "path"
	FieldNodeID     = "node_id"
)
