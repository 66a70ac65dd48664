//go:build unix

package screencast

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/internal/request"
	"go2tv.app/screenrec/internal/xdgportal"
	"go2tv.app/screenrec/recorder"
)

type fakeSession struct {
	selected *xdgportal.SelectSourcesOptions
	startErr error
	streams  []xdgportal.Stream
	openErr  error
	opened   int
	closed   int
}

func (s *fakeSession) SelectSources(_ context.Context, o *xdgportal.SelectSourcesOptions) error {
	s.selected = o
	return nil
}

func (s *fakeSession) Start(context.Context, string) (*xdgportal.StartResult, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &xdgportal.StartResult{Streams: s.streams}, nil
}

// OpenPipeWireRemote hands out a real descriptor so Stop can close it.
func (s *fakeSession) OpenPipeWireRemote(context.Context) (int, error) {
	if s.openErr != nil {
		return -1, s.openErr
	}
	s.opened++
	f, err := os.Open(os.DevNull)
	if err != nil {
		return -1, err
	}
	fd, err := dupFD(f)
	_ = f.Close()
	return fd, err
}

func (s *fakeSession) Close(context.Context) error {
	s.closed++
	return nil
}

type fakePortal struct {
	sess        *fakeSession
	cursorModes uint32
}

func (p *fakePortal) CreateSession(context.Context) (PortalSession, error) { return p.sess, nil }
func (p *fakePortal) AvailableCursorModes() (uint32, error)                { return p.cursorModes, nil }

func newAuthorizer(t *testing.T, sess *fakeSession, opts Options) *Authorizer {
	t.Helper()
	nop := zerolog.Nop()
	opts.Portal = &fakePortal{sess: sess, cursorModes: xdgportal.CursorModeEmbedded | xdgportal.CursorModeHidden}
	opts.Logger = &nop
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

var monitor = xdgportal.Stream{NodeID: 51, Size: [2]int32{1920, 1080}, SourceType: xdgportal.SourceTypeMonitor}

func TestAuthorizer_GrantFlow(t *testing.T) {
	sess := &fakeSession{streams: []xdgportal.Stream{monitor}}
	a := newAuthorizer(t, sess, Options{FrameRate: 30})
	ctx := context.Background()

	req, err := a.CreateCaptureRequest(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess.selected)
	assert.Equal(t, xdgportal.SourceTypeMonitor, sess.selected.Types)
	assert.Equal(t, xdgportal.CursorModeEmbedded, sess.selected.CursorMode)

	res, err := a.Present(ctx, req)
	require.NoError(t, err)
	require.True(t, res.OK())

	w, h, ok := StreamSize(res, 0)
	assert.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	auth, err := a.AcquireSession(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, recorder.Source{Width: 1920, Height: 1080, FrameRate: 30, PixelFormat: PixelFormatBGRA}, auth.Source())

	pw, ok := auth.(interface{ PipeWireRemote() (int, uint32) })
	require.True(t, ok)
	fd, node := pw.PipeWireRemote()
	assert.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, uint32(51), node)

	_, err = a.AcquireSession(ctx, res)
	require.ErrorIs(t, err, ErrConsumed, "a grant is consumed exactly once")
	assert.Equal(t, 1, sess.opened)

	require.NoError(t, auth.Stop())
	require.NoError(t, auth.Stop())
	assert.Equal(t, 1, sess.closed)
}

func TestAuthorizer_UserCancels(t *testing.T) {
	sess := &fakeSession{startErr: &xdgportal.ResponseError{Status: request.Cancelled}}
	a := newAuthorizer(t, sess, Options{})

	req, err := a.CreateCaptureRequest(context.Background())
	require.NoError(t, err)
	res, err := a.Present(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, recorder.ResultCancelled, res.Code)
	assert.False(t, res.OK())
	assert.Equal(t, 1, sess.closed)

	_, err = a.AcquireSession(context.Background(), res)
	assert.ErrorIs(t, err, recorder.ErrAuthorizationDenied)
}

func TestAuthorizer_PortalEnded(t *testing.T) {
	sess := &fakeSession{startErr: &xdgportal.ResponseError{Status: request.Ended}}
	a := newAuthorizer(t, sess, Options{})

	req, err := a.CreateCaptureRequest(context.Background())
	require.NoError(t, err)
	res, err := a.Present(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, recorder.ResultEnded, res.Code)
}

func TestAuthorizer_PresentFailures(t *testing.T) {
	sess := &fakeSession{startErr: errors.New("bus gone")}
	a := newAuthorizer(t, sess, Options{})
	req, err := a.CreateCaptureRequest(context.Background())
	require.NoError(t, err)
	res, err := a.Present(context.Background(), req)
	require.Error(t, err)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, sess.closed)

	sess = &fakeSession{}
	a = newAuthorizer(t, sess, Options{})
	req, err = a.CreateCaptureRequest(context.Background())
	require.NoError(t, err)
	_, err = a.Present(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoStreams)

	_, err = a.Present(context.Background(), "not a request")
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestAuthorizer_AcquireFailuresCloseSession(t *testing.T) {
	tests := []struct {
		name    string
		sess    *fakeSession
		opts    Options
		wantErr error
	}{
		{
			name:    "stream index out of range",
			sess:    &fakeSession{streams: []xdgportal.Stream{monitor}},
			opts:    Options{StreamIndex: 2},
			wantErr: ErrInvalidOptions,
		},
		{
			name:    "zero sized stream",
			sess:    &fakeSession{streams: []xdgportal.Stream{{NodeID: 1}}},
			wantErr: ErrInvalidDimensions,
		},
		{
			name: "remote fails to open",
			sess: &fakeSession{streams: []xdgportal.Stream{monitor}, openErr: errors.New("denied")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAuthorizer(t, tt.sess, tt.opts)
			req, err := a.CreateCaptureRequest(context.Background())
			require.NoError(t, err)
			res, err := a.Present(context.Background(), req)
			require.NoError(t, err)

			_, err = a.AcquireSession(context.Background(), res)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, 1, tt.sess.closed)
		})
	}
}

func TestAuthorizer_CursorFallback(t *testing.T) {
	sess := &fakeSession{}
	nop := zerolog.Nop()
	a, err := New(Options{
		CursorMode: "metadata",
		Portal:     &fakePortal{sess: sess, cursorModes: xdgportal.CursorModeHidden | xdgportal.CursorModeEmbedded},
		Logger:     &nop,
	})
	require.NoError(t, err)
	_, err = a.CreateCaptureRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, xdgportal.CursorModeHidden, sess.selected.CursorMode)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{StreamIndex: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = New(Options{CursorMode: "sparkly"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	a, err := New(Options{AllowWindows: true, StreamIndex: 1, Portal: &fakePortal{sess: &fakeSession{}}})
	require.NoError(t, err)
	assert.Equal(t, defaultFrameRate, a.opts.FrameRate)
}

func TestStreamSize_NoGrant(t *testing.T) {
	_, _, ok := StreamSize(recorder.Result{Code: recorder.ResultCancelled}, 0)
	assert.False(t, ok)
}

func TestStreamSize_FollowsStreamIndex(t *testing.T) {
	window := xdgportal.Stream{NodeID: 77, Size: [2]int32{800, 1200}, SourceType: xdgportal.SourceTypeWindow}
	sess := &fakeSession{streams: []xdgportal.Stream{monitor, window}}
	a := newAuthorizer(t, sess, Options{StreamIndex: 1, AllowWindows: true})
	ctx := context.Background()

	req, err := a.CreateCaptureRequest(ctx)
	require.NoError(t, err)
	res, err := a.Present(ctx, req)
	require.NoError(t, err)

	w, h, ok := StreamSize(res, 1)
	require.True(t, ok)
	assert.Equal(t, 800, w)
	assert.Equal(t, 1200, h)

	auth, err := a.AcquireSession(ctx, res)
	require.NoError(t, err)
	src := auth.Source()
	assert.Equal(t, w, src.Width, "fallback size must describe the recorded stream")
	assert.Equal(t, h, src.Height)
	require.NoError(t, auth.Stop())

	_, _, ok = StreamSize(res, 2)
	assert.False(t, ok)
}
