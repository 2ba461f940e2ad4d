package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lisuiheng/qinghe-go/audio/wav"
	"github.com/lisuiheng/qinghe-go/pkg/interfaces"
	"github.com/lisuiheng/qinghe-go/session"
)

// RecordingSession 后台录音需要的会话操作，由 session.Arbiter 实现
type RecordingSession interface {
	BeginBackgroundRecording() session.Result
	EndBackgroundRecording() session.Result
}

// Recording 一段已保存的睡眠录音
type Recording struct {
	ID        string
	Path      string
	StartedAt time.Time
	Duration  time.Duration
}

type sleepCapture struct {
	id      string
	writer  *wav.Writer
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// SleepRecorder 睡眠录音：录音期间白噪音继续混音播放
type SleepRecorder struct {
	cfg      RecordingConfig
	session  RecordingSession
	recorder interfaces.Recorder // 输出 s16le PCM
	logger   *slog.Logger

	mu     sync.Mutex
	active *sleepCapture
}

func NewSleepRecorder(cfg RecordingConfig, sess RecordingSession, rec interfaces.Recorder, log *slog.Logger) (*SleepRecorder, error) {
	if sess == nil || rec == nil {
		return nil, errors.New("sleep recorder dependencies are incomplete")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &SleepRecorder{
		cfg:      cfg,
		session:  sess,
		recorder: rec,
		logger:   log,
	}, nil
}

// Start 申请后台录音会话并开始写入 <dir>/<id>.wav，返回录音 ID
func (s *SleepRecorder) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return "", ErrAlreadyRecording
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	res := s.session.BeginBackgroundRecording()
	if !res.OK() {
		s.session.EndBackgroundRecording()
		return "", fmt.Errorf("audio session unavailable: %w", res.Err)
	}

	id := uuid.NewString()
	writer, err := wav.Create(filepath.Join(s.cfg.Dir, id+".wav"), s.cfg.SampleRate, s.cfg.Channels)
	if err != nil {
		s.session.EndBackgroundRecording()
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cp := &sleepCapture{
		id:      id,
		writer:  writer,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.active = cp
	go s.capture(ctx, cp)

	s.logger.Info("Sleep recording started", "id", id, "path", writer.Path())
	return id, nil
}

func (s *SleepRecorder) capture(ctx context.Context, cp *sleepCapture) {
	defer close(cp.done)

	frames := make(chan []byte, 100)
	recErr := make(chan error, 1)
	go func() {
		recErr <- s.recorder.Record(ctx, frames)
	}()

	for {
		select {
		case data := <-frames:
			if _, err := cp.writer.Write(data); err != nil {
				s.logger.Error("Failed to write recording", "id", cp.id, "error", err)
			}
		case err := <-recErr:
			if err != nil {
				s.logger.Error("Sleep recording failed", "id", cp.id, "error", err)
			}
			// 取走已缓冲的数据
			for {
				select {
				case data := <-frames:
					if _, err := cp.writer.Write(data); err != nil {
						s.logger.Error("Failed to write recording", "id", cp.id, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Stop 结束录音并归还会话。短于 min_duration 的录音会被删除并返回 ErrRecordingTooShort。
func (s *SleepRecorder) Stop() (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.active
	if cp == nil {
		return Recording{}, ErrNotRecording
	}
	s.active = nil

	cp.cancel()
	<-cp.done
	closeErr := cp.writer.Close()
	s.session.EndBackgroundRecording()

	rec := Recording{
		ID:        cp.id,
		Path:      cp.writer.Path(),
		StartedAt: cp.started,
		Duration:  time.Duration(cp.writer.Duration() * float64(time.Second)),
	}
	if closeErr != nil {
		return rec, fmt.Errorf("failed to finalize recording: %w", closeErr)
	}

	if rec.Duration < s.cfg.MinDuration {
		if err := os.Remove(rec.Path); err != nil {
			s.logger.Warn("Failed to delete short recording", "path", rec.Path, "error", err)
		}
		s.logger.Info("Sleep recording discarded", "id", rec.ID, "duration", rec.Duration, "min", s.cfg.MinDuration)
		return Recording{}, fmt.Errorf("%w: %s < %s", ErrRecordingTooShort, rec.Duration, s.cfg.MinDuration)
	}

	s.logger.Info("Sleep recording saved", "id", rec.ID, "path", rec.Path, "duration", rec.Duration)
	return rec, nil
}

// Toggle 未录音时开始，录音中时停止
func (s *SleepRecorder) Toggle() error {
	if s.Active() {
		_, err := s.Stop()
		return err
	}
	_, err := s.Start()
	return err
}

func (s *SleepRecorder) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Close 退出时保存进行中的录音
func (s *SleepRecorder) Close() error {
	if !s.Active() {
		return nil
	}
	_, err := s.Stop()
	if errors.Is(err, ErrRecordingTooShort) || errors.Is(err, ErrNotRecording) {
		return nil
	}
	return err
}
