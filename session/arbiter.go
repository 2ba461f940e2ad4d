// Package session 仲裁进程内唯一的音频会话，保证白噪音、语音消息与后台录音不会互相抢占设备。
package session

import (
	"errors"
	"log/slog"
	"time"
)

// AmbientPlayer 白噪音播放器需要提供的能力。
// 这些方法在仲裁工作协程上被调用，实现不得同步回调 Arbiter。
type AmbientPlayer interface {
	IsPlaying() bool
	Pause()
	Resume()
}

// Device 平台音频设备。瞬时忙应返回与 ErrDeviceBusy 匹配的错误。
type Device interface {
	Configuration() Configuration
	SetConfiguration(cfg Configuration) error
	SetActive(active bool) error
}

const (
	OpRequestAmbientPlayback   = "request_ambient_playback"
	OpBeginVoiceMessage        = "begin_voice_message"
	OpEndVoiceMessage          = "end_voice_message"
	OpBeginBackgroundRecording = "begin_background_recording"
	OpEndBackgroundRecording   = "end_background_recording"
)

// Snapshot 仲裁器内部状态的只读副本，仅用于诊断
type Snapshot struct {
	Role                                Role
	AmbientWasPlayingBeforeVoiceMessage bool
	AmbientWasPlayingBeforeRecording    bool
	AmbientRequestedDuringVoiceMessage  bool
}

// Option 配置 Arbiter
type Option func(*Arbiter)

// WithObserver 设置操作观察者
func WithObserver(o Observer) Option {
	return func(a *Arbiter) { a.observer = o }
}

// Arbiter 音频会话仲裁器，由组合根创建一次并传给各功能模块
type Arbiter struct {
	device   Device
	ambient  AmbientPlayer
	logger   *slog.Logger
	queue    *Queue
	observer Observer

	// 以下字段只在 queue 的工作协程上读写
	role                   Role
	ambientBeforeVoice     bool
	ambientBeforeRecording bool
	// 语音消息期间收到的播放请求，与 ambientBeforeVoice 分开记录
	ambientRequestedDuringVoice bool
	voiceCycle             bool
	recordingCycle         bool
}

// NewArbiter 创建仲裁器并启动其串行队列
func NewArbiter(device Device, ambient AmbientPlayer, log *slog.Logger, opts ...Option) (*Arbiter, error) {
	if device == nil {
		return nil, errors.New("audio device cannot be nil")
	}
	if ambient == nil {
		return nil, errors.New("ambient player cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}

	a := &Arbiter{
		device:  device,
		ambient: ambient,
		logger:  log,
		role:    RoleNone,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.queue = NewQueue()
	return a, nil
}

// RequestAmbientPlayback 白噪音播放前调用。语音消息占用时不抢占，等其结束后自动恢复。
func (a *Arbiter) RequestAmbientPlayback() Result {
	return a.exec(OpRequestAmbientPlayback, func() Result {
		if a.role == RoleVoiceMessage {
			// 不动设备和 ambientBeforeVoice，只记下请求，EndVoiceMessage 时恢复
			a.ambientRequestedDuringVoice = true
			a.logger.Debug("Voice message owns the audio session, ambient playback deferred")
			return Result{Outcome: OutcomeDeferred}
		}
		return a.claim(OpRequestAmbientPlayback, RoleAmbientPlayback, PlaybackConfiguration)
	})
}

// BeginVoiceMessage 暂停正在播放的白噪音并切换到双向语音配置
func (a *Arbiter) BeginVoiceMessage() Result {
	return a.exec(OpBeginVoiceMessage, func() Result {
		if !a.voiceCycle {
			a.voiceCycle = true
			a.ambientBeforeVoice = a.ambient.IsPlaying()
			if a.ambientBeforeVoice {
				a.ambient.Pause()
			}
		}
		return a.claim(OpBeginVoiceMessage, RoleVoiceMessage, VoiceMessageConfiguration)
	})
}

// EndVoiceMessage 切回独占播放，按需恢复白噪音
func (a *Arbiter) EndVoiceMessage() Result {
	return a.exec(OpEndVoiceMessage, func() Result {
		res := a.claim(OpEndVoiceMessage, RoleAmbientPlayback, PlaybackConfiguration)
		if a.ambientBeforeVoice || a.ambientRequestedDuringVoice {
			a.ambient.Resume()
		}
		a.ambientBeforeVoice = false
		a.ambientRequestedDuringVoice = false
		a.voiceCycle = false
		return res
	})
}

// BeginBackgroundRecording 切换到后台录音配置，白噪音可继续混音播放
func (a *Arbiter) BeginBackgroundRecording() Result {
	return a.exec(OpBeginBackgroundRecording, func() Result {
		if !a.recordingCycle {
			a.recordingCycle = true
			a.ambientBeforeRecording = a.ambient.IsPlaying()
		}
		return a.claim(OpBeginBackgroundRecording, RoleBackgroundRecording, RecordingConfiguration)
	})
}

// EndBackgroundRecording 切回独占播放，按需恢复白噪音
func (a *Arbiter) EndBackgroundRecording() Result {
	return a.exec(OpEndBackgroundRecording, func() Result {
		res := a.claim(OpEndBackgroundRecording, RoleAmbientPlayback, PlaybackConfiguration)
		if a.ambientBeforeRecording {
			a.ambient.Resume()
		}
		a.ambientBeforeRecording = false
		a.recordingCycle = false
		return res
	})
}

// Role 当前角色，仅供诊断和界面展示，不应用于控制决策
func (a *Arbiter) Role() Role {
	return a.Snapshot().Role
}

// Snapshot 返回角色和保存的播放意图
func (a *Arbiter) Snapshot() Snapshot {
	var s Snapshot
	if err := a.queue.Sync(func() {
		s = Snapshot{
			Role:                                a.role,
			AmbientWasPlayingBeforeVoiceMessage: a.ambientBeforeVoice,
			AmbientWasPlayingBeforeRecording:    a.ambientBeforeRecording,
			AmbientRequestedDuringVoiceMessage:  a.ambientRequestedDuringVoice,
		}
	}); err != nil {
		return Snapshot{Role: RoleNone}
	}
	return s
}

// Close 停止串行队列，之后的操作返回 OutcomeClosed
func (a *Arbiter) Close() {
	a.queue.Close()
}

func (a *Arbiter) exec(op string, fn func() Result) Result {
	var res Result
	err := a.queue.Sync(func() {
		from := a.role
		res = fn()
		res.Op = op
		res.Role = a.role

		if from != a.role {
			a.logger.Info("Audio session role changed",
				"op", op,
				"from", from,
				"to", a.role)
		}
		if a.observer != nil {
			a.observer.Observe(Transition{
				Op:      op,
				From:    from,
				To:      a.role,
				Outcome: res.Outcome,
				At:      time.Now(),
			})
		}
	})
	if err != nil {
		return Result{Op: op, Outcome: OutcomeClosed, Role: RoleNone, Err: err}
	}
	return res
}

// claim 配置并激活设备，成功后才提交角色；瞬时忙视为成功
func (a *Arbiter) claim(op string, target Role, cfg Configuration) Result {
	busy := false
	previous := a.device.Configuration()

	if previous != cfg {
		if err := a.device.SetConfiguration(cfg); err != nil {
			if !IsTransientBusy(err) {
				return a.fail(op, target, StageConfigure, err)
			}
			busy = true
			a.logger.Debug("Audio device busy while configuring, ignored",
				"op", op, "role", target, "configuration", cfg)
		}
	}

	if err := a.device.SetActive(true); err != nil {
		if !IsTransientBusy(err) {
			a.restore(op, previous, cfg)
			return a.fail(op, target, StageActivate, err)
		}
		busy = true
		a.logger.Debug("Audio device busy while activating, ignored",
			"op", op, "role", target)
	}

	a.role = target
	if busy {
		return Result{Outcome: OutcomeBusyIgnored}
	}
	return Result{Outcome: OutcomeApplied}
}

// restore 激活失败后尽量把设备配置退回原状
func (a *Arbiter) restore(op string, previous, attempted Configuration) {
	if previous == attempted || previous.Validate() != nil {
		return
	}
	if err := a.device.SetConfiguration(previous); err != nil && !IsTransientBusy(err) {
		a.logger.Warn("Failed to restore previous audio configuration",
			"op", op,
			"configuration", previous,
			"error", err)
	}
}

func (a *Arbiter) fail(op string, target Role, stage Stage, err error) Result {
	outcome := OutcomeConfigurationFailed
	if stage == StageActivate {
		outcome = OutcomeActivationFailed
	}
	a.logger.Error("Audio session transition failed",
		"op", op,
		"role", target,
		"current_role", a.role,
		"stage", stage,
		"error", err)
	return Result{
		Outcome: outcome,
		Err:     &SessionError{Op: op, Role: target, Stage: stage, Err: err},
	}
}
