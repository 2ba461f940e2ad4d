package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 对应 config.yaml 的结构
type Config struct {
	System    SystemConfig    `mapstructure:"system"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Ambient   AmbientConfig   `mapstructure:"ambient"`
	Recording RecordingConfig `mapstructure:"recording"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Debug     bool            `mapstructure:"debug"`
}

type SystemConfig struct {
	DeviceID string        `mapstructure:"device_id"`
	ClientID string        `mapstructure:"client_id"`
	Network  NetworkConfig `mapstructure:"network"`
}

type NetworkConfig struct {
	Transport string          `mapstructure:"transport"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

type WebsocketConfig struct {
	URL             string `mapstructure:"url"`
	AccessToken     string `mapstructure:"access_token"`
	ProtocolVersion int    `mapstructure:"protocol_version"`
}

type ReconnectConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

// AudioConfig 语音消息的采集与编码参数
type AudioConfig struct {
	SampleRate    int `mapstructure:"sample_rate"`
	Channels      int `mapstructure:"channels"`
	FrameDuration int `mapstructure:"frame_duration"` // 毫秒
	Bitrate       int `mapstructure:"bitrate"`
}

type AmbientConfig struct {
	Color    string  `mapstructure:"color"` // white/pink/brown
	Volume   float64 `mapstructure:"volume"`
	Autoplay bool    `mapstructure:"autoplay"`
}

type RecordingConfig struct {
	Dir         string        `mapstructure:"dir"`
	MinDuration time.Duration `mapstructure:"min_duration"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Channels    int           `mapstructure:"channels"`
}

type LoggingConfig struct {
	Level   string   `mapstructure:"level"`
	Outputs []string `mapstructure:"outputs"`
}

// Online 是否配置了聊天服务器
func (c Config) Online() bool {
	return c.System.Network.Websocket.URL != ""
}

func (c Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio: invalid format %d Hz, %d channels, %d ms",
			c.Audio.SampleRate, c.Audio.Channels, c.Audio.FrameDuration))
	}
	if c.Recording.SampleRate <= 0 || c.Recording.Channels <= 0 {
		errs = append(errs, fmt.Errorf("recording: invalid format %d Hz, %d channels",
			c.Recording.SampleRate, c.Recording.Channels))
	}
	if c.Recording.Dir == "" {
		errs = append(errs, errors.New("recording: dir is empty"))
	}
	if c.Recording.MinDuration < 0 {
		errs = append(errs, errors.New("recording: min_duration is negative"))
	}
	if c.Ambient.Volume < 0 || c.Ambient.Volume > 1 {
		errs = append(errs, fmt.Errorf("ambient: volume %.2f out of range 0..1", c.Ambient.Volume))
	}
	if c.Online() && c.System.Network.Transport != "websocket" {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, c.System.Network.Transport))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.device_id", "")
	v.SetDefault("system.client_id", "")
	v.SetDefault("system.network.transport", "websocket")
	v.SetDefault("system.network.websocket.url", "")
	v.SetDefault("system.network.websocket.access_token", "")
	v.SetDefault("system.network.websocket.protocol_version", 1)
	v.SetDefault("system.network.reconnect.initial", time.Second)
	v.SetDefault("system.network.reconnect.max", 30*time.Second)

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_duration", 60)
	v.SetDefault("audio.bitrate", 32000)

	v.SetDefault("ambient.color", "white")
	v.SetDefault("ambient.volume", 0.5)
	v.SetDefault("ambient.autoplay", false)

	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.min_duration", 5*time.Second)
	v.SetDefault("recording.sample_rate", 16000)
	v.SetDefault("recording.channels", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("debug", false)
}

// NewViper 创建带默认值和环境变量映射的 viper 实例。
// 未指定路径时按 . ./config /etc/qinghe 顺序查找 config.yaml。
func NewViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/qinghe")
	}

	// QINGHE_AUDIO_SAMPLE_RATE 覆盖 audio.sample_rate
	v.SetEnvPrefix("QINGHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadConfig 读取并校验配置；找不到默认配置文件时使用默认值
func LoadConfig(configPath string) (Config, *viper.Viper, error) {
	v := NewViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Decode 从已加载的 viper 实例解出配置，热加载时复用
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
