package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lisuiheng/qinghe-go/audio"
	"github.com/lisuiheng/qinghe-go/audio/ambient"
	"github.com/lisuiheng/qinghe-go/audio/noise"
	"github.com/lisuiheng/qinghe-go/core"
	"github.com/lisuiheng/qinghe-go/logger"
	"github.com/lisuiheng/qinghe-go/session"
	"github.com/spf13/viper"
)

// 睡眠录音每次回调写入的时长
const recordingFrameDuration = 100

func main() {
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/qinghe/config.yaml)")
	flag.Parse()

	cfg, v, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := initLogger(cfg); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, v); err != nil {
		logger.Error("Service runtime error", "error", err)
		os.Exit(1)
	}
	logger.Info("Service shutdown completed")
}

func run(cfg core.Config, v *viper.Viper) error {
	log := logger.Logger()

	device := audio.NewMalgoDevice(cfg.Audio.SampleRate, cfg.Audio.Channels, log)
	defer device.Close()

	// 白噪音
	color, err := noise.ParseColor(cfg.Ambient.Color)
	if err != nil {
		return err
	}
	ambientSink, err := audio.NewPCMPlayer(cfg.Audio.SampleRate, cfg.Audio.FrameDuration, cfg.Audio.Channels, log)
	if err != nil {
		return fmt.Errorf("failed to create ambient output: %w", err)
	}
	defer ambientSink.Close()

	ambientPlayer, err := ambient.NewPlayer(ambient.Config{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration,
		Color:         color,
		Volume:        cfg.Ambient.Volume,
		Seed:          uint64(time.Now().UnixNano()),
	}, ambientSink, log)
	if err != nil {
		return err
	}
	defer ambientPlayer.Close()

	// 会话仲裁
	bus := session.NewBus()
	arbiter, err := session.NewArbiter(device, ambientPlayer, log, session.WithObserver(bus))
	if err != nil {
		return err
	}
	defer arbiter.Close()
	ambientPlayer.Attach(arbiter)
	go logTransitions(bus.Subscribe("daemon"))

	// 睡眠录音
	pcmRecorder, err := audio.NewPCMRecorder(audio.Config{
		SampleRate:    cfg.Recording.SampleRate,
		Channels:      cfg.Recording.Channels,
		FrameDuration: recordingFrameDuration,
	}, log)
	if err != nil {
		return err
	}
	sleepRecorder, err := core.NewSleepRecorder(cfg.Recording, arbiter, pcmRecorder, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sleepRecorder.Close(); err != nil {
			logger.Error("Failed to save sleep recording", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 语音消息
	if cfg.Online() {
		client, release, err := newClient(cfg, arbiter)
		if err != nil {
			return err
		}
		defer release()
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close client", "error", err)
			}
		}()
		go func() {
			if err := client.Run(ctx); err != nil {
				logger.Error("Client stopped", "error", err)
			}
		}()
	} else {
		logger.Info("No chat server configured, voice messages disabled")
	}

	watchConfig(v, ambientPlayer)

	if cfg.Ambient.Autoplay {
		if err := ambientPlayer.Start(); err != nil {
			logger.Warn("Ambient autoplay failed", "error", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{syscall.SIGINT, syscall.SIGTERM}, toggleRecordingSignals...)...)
	defer signal.Stop(sigChan)

	logger.Info("Starting qinghe service")
	for sig := range sigChan {
		if isToggleRecording(sig) {
			if err := sleepRecorder.Toggle(); err != nil {
				logger.Warn("Failed to toggle sleep recording", "error", err)
			}
			continue
		}
		logger.Info("Received signal, shutting down", "signal", sig)
		break
	}
	return nil
}

// newClient 组装语音消息客户端，release 释放解码器和播放器
func newClient(cfg core.Config, arbiter *session.Arbiter) (*core.Client, func(), error) {
	log := logger.Logger()

	recorder, err := audio.NewRecorder(audio.Config{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration,
		Bitrate:       cfg.Audio.Bitrate,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audio recorder: %w", err)
	}
	decoder, err := audio.NewOpusDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		return nil, nil, err
	}
	player, err := audio.NewPCMPlayer(cfg.Audio.SampleRate, cfg.Audio.FrameDuration, cfg.Audio.Channels, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audio player: %w", err)
	}
	release := func() {
		_ = player.Close()
		decoder.Close()
	}

	client, err := core.NewClient(cfg, core.Dependencies{
		Session:  arbiter,
		Recorder: recorder,
		Decoder:  decoder,
		Player:   player,
	}, log)
	if err != nil {
		release()
		return nil, nil, err
	}
	return client, release, nil
}

func logTransitions(ch <-chan session.Transition) {
	for t := range ch {
		logger.Debug("Audio session transition",
			"op", t.Op,
			"from", t.From,
			"to", t.To,
			"outcome", t.Outcome)
	}
}

// watchConfig 配置文件变化时更新日志级别和白噪音音量
func watchConfig(v *viper.Viper, player *ambient.Player) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := core.Decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logger.SetLevel(cfg.Logging.Level)
		player.SetVolume(cfg.Ambient.Volume)
		logger.Info("Config reloaded", "file", e.Name, "level", cfg.Logging.Level, "volume", cfg.Ambient.Volume)
	})
	v.WatchConfig()
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if cfg.Debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	return logger.Init(logCfg)
}
