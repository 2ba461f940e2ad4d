// Package wav 把 16 位 PCM 写入 WAV 文件，关闭时回填长度字段
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const headerSize = 44

// header WAV文件头结构
type header struct {
	RiffMark      [4]byte // "RIFF"
	FileSize      uint32  // 文件总大小-8
	WaveMark      [4]byte // "WAVE"
	FmtMark       [4]byte // "fmt "
	FmtSize       uint32  // fmt chunk大小(16)
	AudioFormat   uint16  // 1=PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16 // 16
	DataMark      [4]byte // "data"
	DataSize      uint32  // 原始数据大小
}

func newHeader(sampleRate, channels int, dataSize uint32) header {
	h := header{
		RiffMark:      [4]byte{'R', 'I', 'F', 'F'},
		FileSize:      headerSize - 8 + dataSize,
		WaveMark:      [4]byte{'W', 'A', 'V', 'E'},
		FmtMark:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		BitsPerSample: 16,
		DataMark:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	h.ByteRate = h.SampleRate * uint32(h.NumChannels) * uint32(h.BitsPerSample) / 8
	h.BlockAlign = h.NumChannels * h.BitsPerSample / 8
	return h
}

// Writer 非并发安全
type Writer struct {
	file       *os.File
	sampleRate int
	channels   int
	dataSize   uint32
	closed     bool
}

// Create 创建文件并写入占位文件头
func Create(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d Hz, %d channels", sampleRate, channels)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	h := newHeader(sampleRate, channels, 0)
	if err := binary.Write(f, binary.LittleEndian, &h); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	return &Writer{file: f, sampleRate: sampleRate, channels: channels}, nil
}

// Write 写入小端 16 位 PCM 字节
func (w *Writer) Write(pcm []byte) (int, error) {
	if w.closed {
		return 0, errors.New("wav writer closed")
	}
	n, err := w.file.Write(pcm)
	w.dataSize += uint32(n)
	return n, err
}

// Duration 已写入音频的时长（秒）
func (w *Writer) Duration() float64 {
	bytesPerSecond := w.sampleRate * w.channels * 2
	return float64(w.dataSize) / float64(bytesPerSecond)
}

func (w *Writer) Path() string { return w.file.Name() }

// Close 回填 RIFF 与 data 长度后关闭文件
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	h := newHeader(w.sampleRate, w.channels, w.dataSize)
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek wav header: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, &h); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize wav header: %w", err)
	}
	return w.file.Close()
}
