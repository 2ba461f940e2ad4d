package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	ErrBufferFull   = errors.New("audio buffer full")
	ErrPlayerClosed = errors.New("audio player closed")
)

// PCMPlayer PortAudio实现的PCM播放器，数据为交错排列的 int16 样本
type PCMPlayer struct {
	sampleRate int
	channels   int
	buffer     chan []int16
	done       chan struct{}
	closeOnce  sync.Once
	flushReq   atomic.Bool
	logger     *slog.Logger
	stream     *portaudio.Stream

	pending []int16 // 只在回调线程里访问
}

// NewPCMPlayer 创建并启动播放流
func NewPCMPlayer(sampleRate, frameDuration, channels int, logger *slog.Logger) (*PCMPlayer, error) {
	if sampleRate <= 0 || channels <= 0 || frameDuration <= 0 {
		return nil, fmt.Errorf("invalid player params: rate=%d channels=%d frame=%dms",
			sampleRate, channels, frameDuration)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	player := &PCMPlayer{
		sampleRate: sampleRate,
		channels:   channels,
		buffer:     make(chan []int16, 100),
		done:       make(chan struct{}),
		logger:     logger,
	}

	frameSize := sampleRate * frameDuration / 1000
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), frameSize, player.audioCallback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	player.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return player, nil
}

func (p *PCMPlayer) audioCallback(out [][]float32) {
	if p.flushReq.Swap(false) {
		p.pending = nil
	}

	frames := len(out[0])
	channels := len(out)
	for f := 0; f < frames; f++ {
		if !p.nextFrame(channels) {
			// 数据不够，剩余部分填静音
			for c := range out {
				for j := f; j < frames; j++ {
					out[c][j] = 0
				}
			}
			return
		}
		for c := 0; c < channels; c++ {
			out[c][f] = float32(p.pending[c]) / 32768.0
		}
		p.pending = p.pending[channels:]
	}
}

func (p *PCMPlayer) nextFrame(channels int) bool {
	for len(p.pending) < channels {
		select {
		case data := <-p.buffer:
			p.pending = data
		default:
			p.pending = nil
			return false
		}
	}
	return true
}

// Play 排队一段PCM，缓冲区满时最多等待100ms
func (p *PCMPlayer) Play(data []int16) error {
	select {
	case <-p.done:
		return ErrPlayerClosed
	default:
	}

	select {
	case p.buffer <- data:
		return nil
	case <-time.After(100 * time.Millisecond):
		return ErrBufferFull
	case <-p.done:
		return ErrPlayerClosed
	}
}

// Flush 丢弃已排队但尚未播放的数据
func (p *PCMPlayer) Flush() {
	for {
		select {
		case <-p.buffer:
		default:
			p.flushReq.Store(true)
			return
		}
	}
}

func (p *PCMPlayer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)

		if err := p.stream.Stop(); err != nil {
			p.logger.Error("Failed to stop audio stream", "error", err)
		}
		if err := p.stream.Close(); err != nil {
			p.logger.Error("Failed to close audio stream", "error", err)
		}
		portaudio.Terminate()
	})
	return nil
}
