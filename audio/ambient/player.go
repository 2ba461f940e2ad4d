// Package ambient 白噪音播放，按会话仲裁结果决定是否出声
package ambient

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/qinghe-go/audio/noise"
	"github.com/lisuiheng/qinghe-go/session"
)

var _ session.AmbientPlayer = (*Player)(nil)

var ErrNotAttached = errors.New("ambient player not attached to a session")

// Claimer 播放前向仲裁器申请会话
type Claimer interface {
	RequestAmbientPlayback() session.Result
}

// Sink 接收生成好的 PCM 帧
type Sink interface {
	Play(data []int16) error
}

type flusher interface {
	Flush()
}

type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration int // 毫秒
	Color         noise.Color
	Volume        float64
	Seed          uint64
}

// Player 区分用户意图 wanted 与实际发声 playing：仲裁器 Pause 只影响后者。
// starting 表示 Start 正在申请会话：对仲裁器视同在播放，但还不出声。
type Player struct {
	mu       sync.Mutex
	wanted   bool
	playing  bool
	starting bool
	gen     *noise.Generator
	claimer Claimer

	sink     Sink
	frame    int
	interval time.Duration
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewPlayer(cfg Config, sink Sink, logger *slog.Logger) (*Player, error) {
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	frame := cfg.SampleRate * cfg.FrameDuration / 1000 * cfg.Channels
	if frame <= 0 {
		return nil, fmt.Errorf("invalid frame: rate=%d channels=%d frame=%dms",
			cfg.SampleRate, cfg.Channels, cfg.FrameDuration)
	}

	p := &Player{
		gen:      noise.NewGenerator(cfg.Color, cfg.Volume, cfg.Seed),
		sink:     sink,
		frame:    frame,
		interval: time.Duration(cfg.FrameDuration) * time.Millisecond,
		logger:   logger,
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.feed()
	return p, nil
}

// Attach 绑定仲裁器；构造顺序上仲裁器依赖播放器，所以分两步
func (p *Player) Attach(c Claimer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimer = c
}

// Start 申请会话后开始播放。语音消息占用会话时只记下意图，结束后由仲裁器恢复。
func (p *Player) Start() error {
	p.mu.Lock()
	claimer := p.claimer
	if claimer == nil {
		p.mu.Unlock()
		return ErrNotAttached
	}
	p.wanted = true
	// 申请期间插入的 BeginVoiceMessage 能看到播放意图并调用 Pause
	if !p.playing {
		p.starting = true
	}
	p.mu.Unlock()

	// 不能持锁调用仲裁器：它的工作协程会回调 IsPlaying
	res := claimer.RequestAmbientPlayback()

	p.mu.Lock()
	defer p.mu.Unlock()
	// Pause 或 Stop 清掉了 starting，说明仲裁器或用户已经接管
	pending := p.starting
	p.starting = false

	if !res.OK() {
		p.wanted = false
		p.playing = false
		return fmt.Errorf("ambient playback not started: %w", res.Err)
	}
	if res.Outcome == session.OutcomeDeferred {
		p.logger.Info("Ambient playback deferred", "role", res.Role)
		return nil
	}
	if pending && p.wanted {
		p.playing = true
		p.logger.Info("Ambient playback started", "color", p.gen.Color(), "volume", p.gen.Volume())
	}
	return nil
}

// Stop 用户停止，清除意图
func (p *Player) Stop() {
	p.mu.Lock()
	wasPlaying := p.playing
	p.wanted = false
	p.playing = false
	p.starting = false
	p.mu.Unlock()

	p.flush()
	if wasPlaying {
		p.logger.Info("Ambient playback stopped")
	}
}

// IsPlaying 正在发声，或 Start 正在申请会话
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing || p.starting
}

// Wanted 用户是否希望播放，暂停期间仍为 true
func (p *Player) Wanted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wanted
}

// Pause 由仲裁器调用，保留播放意图
func (p *Player) Pause() {
	p.mu.Lock()
	p.playing = false
	p.starting = false
	p.mu.Unlock()
	p.flush()
	p.logger.Debug("Ambient playback paused")
}

// Resume 由仲裁器调用，用户已停止时不发声
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.wanted {
		p.logger.Debug("Ambient resume skipped, playback no longer wanted")
		return
	}
	p.playing = true
	p.logger.Debug("Ambient playback resumed")
}

func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen.SetVolume(v)
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen.Volume()
}

func (p *Player) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *Player) flush() {
	if f, ok := p.sink.(flusher); ok {
		f.Flush()
	}
}

// feed 每个帧间隔生成一帧噪音送入 sink
func (p *Player) feed() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.playing {
				p.mu.Unlock()
				continue
			}
			buf := make([]int16, p.frame)
			p.gen.Fill(buf)
			p.mu.Unlock()

			if err := p.sink.Play(buf); err != nil {
				p.logger.Debug("Dropped ambient frame", "error", err)
			}
		}
	}
}
