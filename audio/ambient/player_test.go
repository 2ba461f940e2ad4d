package ambient

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/qinghe-go/audio/noise"
	"github.com/lisuiheng/qinghe-go/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	frames  [][]int16
	flushes int
}

func (s *fakeSink) Play(data []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeClaimer struct {
	result session.Result
	calls  int
}

func (c *fakeClaimer) RequestAmbientPlayback() session.Result {
	c.calls++
	return c.result
}

// memDevice 内存中的会话设备
type memDevice struct {
	mu  sync.Mutex
	cfg session.Configuration
}

func (d *memDevice) Configuration() session.Configuration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *memDevice) SetConfiguration(cfg session.Configuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	return nil
}

func (d *memDevice) SetActive(bool) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPlayer(t *testing.T) (*Player, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	p, err := NewPlayer(Config{
		SampleRate:    8000,
		Channels:      1,
		FrameDuration: 10,
		Color:         noise.White,
		Volume:        0.5,
		Seed:          1,
	}, sink, testLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, sink
}

func TestNewPlayerValidates(t *testing.T) {
	_, err := NewPlayer(Config{SampleRate: 8000, Channels: 1, FrameDuration: 10}, nil, testLogger())
	assert.Error(t, err)

	_, err = NewPlayer(Config{}, &fakeSink{}, testLogger())
	assert.Error(t, err)
}

func TestStartWithoutAttach(t *testing.T) {
	p, _ := newTestPlayer(t)
	assert.ErrorIs(t, p.Start(), ErrNotAttached)
}

func TestStartAppliedProducesFrames(t *testing.T) {
	p, sink := newTestPlayer(t)
	claimer := &fakeClaimer{result: session.Result{Outcome: session.OutcomeApplied, Role: session.RoleAmbientPlayback}}
	p.Attach(claimer)

	require.NoError(t, p.Start())
	assert.Equal(t, 1, claimer.calls)
	assert.True(t, p.IsPlaying())
	assert.True(t, p.Wanted())

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Len(t, sink.frames[0], 80)
	sink.mu.Unlock()
}

func TestStartBusyIgnoredStillPlays(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Attach(&fakeClaimer{result: session.Result{Outcome: session.OutcomeBusyIgnored}})

	require.NoError(t, p.Start())
	assert.True(t, p.IsPlaying())
}

func TestStartFailureClearsIntent(t *testing.T) {
	p, _ := newTestPlayer(t)
	cause := errors.New("boom")
	p.Attach(&fakeClaimer{result: session.Result{Outcome: session.OutcomeActivationFailed, Err: cause}})

	err := p.Start()
	assert.ErrorIs(t, err, cause)
	assert.False(t, p.IsPlaying())
	assert.False(t, p.Wanted())
}

func TestStartDeferredWaitsForResume(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Attach(&fakeClaimer{result: session.Result{Outcome: session.OutcomeDeferred, Role: session.RoleVoiceMessage}})

	require.NoError(t, p.Start())
	assert.False(t, p.IsPlaying())
	assert.True(t, p.Wanted())

	p.Resume()
	assert.True(t, p.IsPlaying())
}

func TestPauseKeepsIntent(t *testing.T) {
	p, sink := newTestPlayer(t)
	p.Attach(&fakeClaimer{result: session.Result{Outcome: session.OutcomeApplied}})
	require.NoError(t, p.Start())

	p.Pause()
	assert.False(t, p.IsPlaying())
	assert.True(t, p.Wanted())
	sink.mu.Lock()
	assert.Equal(t, 1, sink.flushes)
	sink.mu.Unlock()

	p.Resume()
	assert.True(t, p.IsPlaying())
}

func TestResumeAfterStopIsSilent(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Attach(&fakeClaimer{result: session.Result{Outcome: session.OutcomeApplied}})
	require.NoError(t, p.Start())

	p.Pause()
	p.Stop()
	p.Resume()
	assert.False(t, p.IsPlaying())
	assert.False(t, p.Wanted())
}

func TestNoFramesWhileStopped(t *testing.T) {
	p, sink := newTestPlayer(t)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
	assert.False(t, p.IsPlaying())
}

func TestSetVolumeClamps(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.SetVolume(2)
	assert.Equal(t, 1.0, p.Volume())
	p.SetVolume(0.25)
	assert.Equal(t, 0.25, p.Volume())
}

func TestCloseIsIdempotent(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Close()
	p.Close()
}

func TestPlayerWithArbiter(t *testing.T) {
	p, _ := newTestPlayer(t)
	arb, err := session.NewArbiter(&memDevice{}, p, testLogger())
	require.NoError(t, err)
	t.Cleanup(arb.Close)
	p.Attach(arb)

	require.NoError(t, p.Start())
	assert.True(t, p.IsPlaying())
	assert.Equal(t, session.RoleAmbientPlayback, arb.Role())

	assert.True(t, arb.BeginVoiceMessage().OK())
	assert.False(t, p.IsPlaying())
	assert.True(t, p.Wanted())

	assert.True(t, arb.EndVoiceMessage().OK())
	assert.True(t, p.IsPlaying())
	assert.Equal(t, session.RoleAmbientPlayback, arb.Role())
}

func TestStartDuringVoiceMessageResumesAfterwards(t *testing.T) {
	p, _ := newTestPlayer(t)
	arb, err := session.NewArbiter(&memDevice{}, p, testLogger())
	require.NoError(t, err)
	t.Cleanup(arb.Close)
	p.Attach(arb)

	require.True(t, arb.BeginVoiceMessage().OK())
	require.NoError(t, p.Start())
	assert.False(t, p.IsPlaying())

	require.True(t, arb.EndVoiceMessage().OK())
	assert.True(t, p.IsPlaying())
}

func TestRecordingKeepsAmbientPlaying(t *testing.T) {
	p, _ := newTestPlayer(t)
	arb, err := session.NewArbiter(&memDevice{}, p, testLogger())
	require.NoError(t, err)
	t.Cleanup(arb.Close)
	p.Attach(arb)

	require.NoError(t, p.Start())
	require.True(t, arb.BeginBackgroundRecording().OK())
	assert.True(t, p.IsPlaying())
	assert.Equal(t, session.RoleBackgroundRecording, arb.Role())

	require.True(t, arb.EndBackgroundRecording().OK())
	assert.True(t, p.IsPlaying())
}

// interleavedClaimer 申请成功后、Start 返回前插入一条语音消息
type interleavedClaimer struct {
	arb *session.Arbiter
}

func (c *interleavedClaimer) RequestAmbientPlayback() session.Result {
	res := c.arb.RequestAmbientPlayback()
	c.arb.BeginVoiceMessage()
	return res
}

func TestVoiceMessageDuringStartKeepsAmbientSilent(t *testing.T) {
	p, sink := newTestPlayer(t)
	arb, err := session.NewArbiter(&memDevice{}, p, testLogger())
	require.NoError(t, err)
	t.Cleanup(arb.Close)
	p.Attach(&interleavedClaimer{arb: arb})

	require.NoError(t, p.Start())
	assert.Equal(t, session.RoleVoiceMessage, arb.Role())
	assert.False(t, p.IsPlaying())
	assert.True(t, p.Wanted())
	assert.True(t, arb.Snapshot().AmbientWasPlayingBeforeVoiceMessage)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())

	require.True(t, arb.EndVoiceMessage().OK())
	assert.True(t, p.IsPlaying())
}

func TestStopDuringStartWins(t *testing.T) {
	p, _ := newTestPlayer(t)
	claimer := &stoppingClaimer{player: p}
	p.Attach(claimer)

	require.NoError(t, p.Start())
	assert.False(t, p.IsPlaying())
	assert.False(t, p.Wanted())
}

// stoppingClaimer 申请期间用户调用了 Stop
type stoppingClaimer struct {
	player *Player
}

func (c *stoppingClaimer) RequestAmbientPlayback() session.Result {
	c.player.Stop()
	return session.Result{Outcome: session.OutcomeApplied, Role: session.RoleAmbientPlayback}
}
