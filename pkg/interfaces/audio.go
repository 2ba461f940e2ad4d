package interfaces

import "context"

// Recorder 音频采集，ctx 取消前持续向 dataChan 写入帧
type Recorder interface {
	Record(ctx context.Context, dataChan chan<- []byte) error
}

// AudioPlayer PCM 播放
type AudioPlayer interface {
	Play(data []int16) error
	Close() error
}

// Decoder 把一帧编码数据解码为 PCM
type Decoder interface {
	Decode(data []byte) ([]int16, error)
}
