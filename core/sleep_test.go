package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lisuiheng/qinghe-go/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSleepRecorder(t *testing.T, minDuration time.Duration) (*SleepRecorder, *fakeSession, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "recordings")
	sess := &fakeSession{beginRes: session.Result{Outcome: session.OutcomeApplied}}
	// 8kHz 单声道 10ms 一帧 = 160 字节
	rec := &fakeRecorder{frame: make([]byte, 160), interval: time.Millisecond}
	s, err := NewSleepRecorder(RecordingConfig{
		Dir:         dir,
		MinDuration: minDuration,
		SampleRate:  8000,
		Channels:    1,
	}, sess, rec, testLogger())
	require.NoError(t, err)
	return s, sess, dir
}

func TestSleepRecorderSavesWav(t *testing.T) {
	s, sess, dir := newTestSleepRecorder(t, 0)

	id, err := s.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, s.Active())

	time.Sleep(30 * time.Millisecond)
	rec, err := s.Stop()
	require.NoError(t, err)
	assert.False(t, s.Active())

	assert.Equal(t, id, rec.ID)
	assert.Equal(t, filepath.Join(dir, id+".wav"), rec.Path)
	assert.Positive(t, rec.Duration)

	info, err := os.Stat(rec.Path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))
	assert.Equal(t, []string{"begin_recording", "end_recording"}, sess.calls())
}

func TestSleepRecorderDiscardsShortRecording(t *testing.T) {
	s, sess, dir := newTestSleepRecorder(t, time.Hour)

	id, err := s.Start()
	require.NoError(t, err)

	_, err = s.Stop()
	assert.ErrorIs(t, err, ErrRecordingTooShort)
	assert.NoFileExists(t, filepath.Join(dir, id+".wav"))
	assert.Equal(t, []string{"begin_recording", "end_recording"}, sess.calls())
}

func TestSleepRecorderStateErrors(t *testing.T) {
	s, _, _ := newTestSleepRecorder(t, 0)

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)

	_, err = s.Start()
	require.NoError(t, err)
	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	_, err = s.Stop()
	assert.NoError(t, err)
}

func TestSleepRecorderSessionFailure(t *testing.T) {
	s, sess, _ := newTestSleepRecorder(t, 0)
	boom := errors.New("boom")
	sess.beginRes = session.Result{Outcome: session.OutcomeConfigurationFailed, Err: boom}

	_, err := s.Start()
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Active())
	assert.Equal(t, []string{"begin_recording", "end_recording"}, sess.calls())
}

func TestSleepRecorderBusyIsSuccess(t *testing.T) {
	s, sess, _ := newTestSleepRecorder(t, 0)
	sess.beginRes = session.Result{Outcome: session.OutcomeBusyIgnored}

	_, err := s.Start()
	require.NoError(t, err)
	_, err = s.Stop()
	assert.NoError(t, err)
}

func TestSleepRecorderToggleAndClose(t *testing.T) {
	s, sess, _ := newTestSleepRecorder(t, time.Hour)

	require.NoError(t, s.Toggle())
	assert.True(t, s.Active())

	// 过短的录音在退出时直接丢弃，不算错误
	assert.NoError(t, s.Close())
	assert.False(t, s.Active())
	assert.NoError(t, s.Close())
	assert.Equal(t, []string{"begin_recording", "end_recording"}, sess.calls())
}

func TestSleepRecorderRecorderFailure(t *testing.T) {
	dir := t.TempDir()
	sess := &fakeSession{beginRes: session.Result{Outcome: session.OutcomeApplied}}
	s, err := NewSleepRecorder(RecordingConfig{Dir: dir, SampleRate: 8000, Channels: 1},
		sess, &fakeRecorder{err: errors.New("no microphone")}, testLogger())
	require.NoError(t, err)

	_, err = s.Start()
	require.NoError(t, err)
	rec, err := s.Stop()
	require.NoError(t, err)
	assert.Zero(t, rec.Duration)
	assert.Equal(t, []string{"begin_recording", "end_recording"}, sess.calls())
}
