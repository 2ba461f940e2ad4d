package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/lisuiheng/qinghe-go/pkg/interfaces"
)

var (
	_ interfaces.Recorder = (*recorder)(nil)
	_ interfaces.Decoder  = (*OpusDecoder)(nil)
)

const defaultBitrate = 32000

type Config struct {
	SampleRate    int
	Channels      int
	FrameDuration int // 毫秒
	Bitrate       int // 仅 opus 使用
}

func (c Config) frameSamples() int {
	return c.SampleRate * c.FrameDuration / 1000 * c.Channels
}

// recorder 通过 malgo 采集麦克风；encode 为 true 时输出 opus 包，否则输出原始 s16le PCM
type recorder struct {
	config Config
	logger *slog.Logger
	encode bool
}

// NewRecorder 语音消息用，按帧输出 opus 数据
func NewRecorder(cfg Config, logger *slog.Logger) (interfaces.Recorder, error) {
	if cfg.Bitrate == 0 {
		cfg.Bitrate = defaultBitrate
	}
	// 提前验证参数，避免到录音时才失败
	enc, err := NewOpusEncoder(cfg.SampleRate, cfg.Channels, cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	enc.Close()

	r, err := newRecorder(cfg, logger, true)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewPCMRecorder 睡眠录音用，输出原始 PCM
func NewPCMRecorder(cfg Config, logger *slog.Logger) (interfaces.Recorder, error) {
	r, err := newRecorder(cfg, logger, false)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(cfg Config, logger *slog.Logger, encode bool) (*recorder, error) {
	if cfg.frameSamples() <= 0 {
		return nil, fmt.Errorf("invalid frame size: rate=%d channels=%d frame=%dms",
			cfg.SampleRate, cfg.Channels, cfg.FrameDuration)
	}
	return &recorder{config: cfg, logger: logger, encode: encode}, nil
}

// Record 阻塞直到 ctx 取消；每次调用使用独立的编码器和设备
func (r *recorder) Record(ctx context.Context, dataChan chan<- []byte) error {
	frameSamples := r.config.frameSamples()

	var enc *OpusEncoder
	if r.encode {
		var err error
		enc, err = NewOpusEncoder(r.config.SampleRate, r.config.Channels, r.config.Bitrate)
		if err != nil {
			return err
		}
		defer enc.Close()
	}

	ctxMalgo, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		r.logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = ctxMalgo.Uninit()
		ctxMalgo.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(r.config.Channels)
	deviceConfig.SampleRate = uint32(r.config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(frameSamples / r.config.Channels)

	// 回调给出的长度不一定等于一帧，先攒够再输出
	var acc []byte
	frameBytes := frameSamples * 2
	emit := func(frame []byte) {
		out := frame
		if enc != nil {
			opusData, err := enc.Encode(bytesToInt16(frame))
			if err != nil {
				r.logger.Error("OPUS encode failed", "error", err)
				return
			}
			out = opusData
		}
		select {
		case dataChan <- out:
		case <-time.After(100 * time.Millisecond):
			r.logger.Warn("Audio channel blocked, dropping frame")
		case <-ctx.Done():
		}
	}

	captureCallback := func(_, pcmData []byte, _ uint32) {
		if ctx.Err() != nil {
			return
		}
		acc = append(acc, pcmData...)
		for len(acc) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, acc[:frameBytes])
			acc = acc[frameBytes:]
			emit(frame)
		}
	}

	device, err := malgo.InitDevice(ctxMalgo.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: captureCallback,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", classify(err))
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", classify(err))
	}
	defer device.Stop()

	r.logger.Info("Audio recording started",
		"sample_rate", r.config.SampleRate,
		"channels", r.config.Channels,
		"frame_samples", frameSamples,
		"opus", r.encode)

	<-ctx.Done()
	r.logger.Info("Audio recording stopped")
	return nil
}

// bytesToInt16 小端 s16 转 int16
func bytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
