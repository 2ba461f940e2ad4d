package audio

import (
	"errors"
	"fmt"

	"github.com/hraban/opus"
)

// opus 单帧最多 120ms，48kHz 下为 5760 个样本
const maxOpusFrameSamples = 5760

var ErrCodecClosed = errors.New("opus codec closed")

// OpusDecoder OPUS音频解码器，实现 interfaces.Decoder
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{
		decoder:  dec,
		channels: channels,
		pcm:      make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

// Decode 返回的切片是新分配的，可以直接交给播放器
func (d *OpusDecoder) Decode(data []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, ErrCodecClosed
	}
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	out := make([]int16, n*d.channels)
	copy(out, d.pcm)
	return out, nil
}

func (d *OpusDecoder) Close() {
	d.decoder = nil
}

// OpusEncoder OPUS音频编码器，每次 Encode 必须传入完整的一帧
type OpusEncoder struct {
	encoder *opus.Encoder
	buf     []byte
}

func NewOpusEncoder(sampleRate, channels, bitrate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}
	return &OpusEncoder{
		encoder: enc,
		buf:     make([]byte, 4000), // OPUS最大包大小
	}, nil
}

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if e.encoder == nil {
		return nil, ErrCodecClosed
	}
	n, err := e.encoder.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

func (e *OpusEncoder) Close() {
	e.encoder = nil
}
