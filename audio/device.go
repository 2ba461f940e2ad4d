package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lisuiheng/qinghe-go/session"
)

var _ session.Device = (*MalgoDevice)(nil)

// MalgoDevice 用 malgo 上下文承载会话配置，激活时打开一个保活设备占住硬件
type MalgoDevice struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	logger     *slog.Logger

	cfg    session.Configuration
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func NewMalgoDevice(sampleRate, channels int, logger *slog.Logger) *MalgoDevice {
	return &MalgoDevice{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
	}
}

func (d *MalgoDevice) Configuration() session.Configuration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfiguration 配置变化时重建 malgo 上下文，已激活的设备会先被释放
func (d *MalgoDevice) SetConfiguration(cfg session.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil && d.cfg == cfg {
		return nil
	}

	wasActive := d.device != nil
	d.releaseDevice()
	d.releaseContext()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		CoreAudio: malgo.CoreAudioConfig{
			SessionCategory:        sessionCategory(cfg.Category),
			SessionCategoryOptions: sessionOptions(cfg.Options),
		},
	}, func(message string) {
		d.logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", classify(err))
	}
	d.ctx = ctx
	d.cfg = cfg

	d.logger.Debug("Audio device configured", "config", cfg.String(), "was_active", wasActive)
	return nil
}

// SetActive true 时启动保活设备，已在运行则什么也不做
func (d *MalgoDevice) SetActive(active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !active {
		d.releaseDevice()
		return nil
	}
	if d.ctx == nil {
		return fmt.Errorf("%w: device not configured", session.ErrInvalidConfiguration)
	}
	if d.device != nil && d.device.IsStarted() {
		return nil
	}
	d.releaseDevice()

	devCfg := deviceConfig(d.cfg, d.sampleRate, d.channels)
	// 输出缓冲默认预填静音，回调无需处理
	device, err := malgo.InitDevice(d.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, _ []byte, _ uint32) {},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", classify(err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start audio device: %w", classify(err))
	}
	d.device = device
	return nil
}

func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseDevice()
	d.releaseContext()
	return nil
}

func (d *MalgoDevice) releaseDevice() {
	if d.device == nil {
		return
	}
	d.device.Uninit()
	d.device = nil
}

func (d *MalgoDevice) releaseContext() {
	if d.ctx == nil {
		return
	}
	if err := d.ctx.Uninit(); err != nil {
		d.logger.Warn("Failed to uninit audio context", "error", err)
	}
	d.ctx.Free()
	d.ctx = nil
}

// deviceConfig 独占语义由会话类别表达，设备本身总是共享模式打开，否则会挡住本进程自己的播放流
func deviceConfig(cfg session.Configuration, sampleRate, channels int) malgo.DeviceConfig {
	kind := malgo.Playback
	switch cfg.Category {
	case session.CategoryRecord:
		kind = malgo.Capture
	case session.CategoryPlayAndRecord:
		kind = malgo.Duplex
	}

	devCfg := malgo.DefaultDeviceConfig(kind)
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(channels)
	devCfg.Playback.ShareMode = malgo.Shared
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(channels)
	devCfg.Capture.ShareMode = malgo.Shared

	switch cfg.Mode {
	case session.ModeMeasurement:
		// 长时间录音不在乎延迟
		devCfg.PerformanceProfile = malgo.Conservative
		devCfg.AAudio.InputPreset = malgo.AAudioInputPresetUnprocessed
		devCfg.AAudio.Usage = malgo.AAudioUsageMedia
	case session.ModeVoiceChat:
		devCfg.PerformanceProfile = malgo.LowLatency
		devCfg.AAudio.InputPreset = malgo.AAudioInputPresetVoiceCommunication
		devCfg.AAudio.Usage = malgo.AAudioUsageVoiceCommunication
	default:
		devCfg.PerformanceProfile = malgo.LowLatency
		devCfg.AAudio.Usage = malgo.AAudioUsageMedia
		if cfg.HasInput() {
			devCfg.AAudio.InputPreset = malgo.AAudioInputPresetGeneric
		}
	}
	return devCfg
}

func sessionCategory(c session.Category) malgo.IOSSessionCategory {
	switch c {
	case session.CategoryAmbient:
		return malgo.IOSSessionCategoryAmbient
	case session.CategorySoloAmbient:
		return malgo.IOSSessionCategorySoloAmbient
	case session.CategoryPlayback:
		return malgo.IOSSessionCategoryPlayback
	case session.CategoryRecord:
		return malgo.IOSSessionCategoryRecord
	case session.CategoryPlayAndRecord:
		return malgo.IOSSessionCategoryPlayAndRecord
	default:
		return malgo.IOSSessionCategoryNone
	}
}

var optionFlags = []struct {
	opt  session.Options
	flag malgo.IOSSessionCategoryOptions
}{
	{session.OptionMixWithOthers, malgo.IOSSessionCategoryOptionMixWithOthers},
	{session.OptionDuckOthers, malgo.IOSSessionCategoryOptionDuckOthers},
	{session.OptionAllowBluetooth, malgo.IOSSessionCategoryOptionAllowBluetooth},
	{session.OptionDefaultToSpeaker, malgo.IOSSessionCategoryOptionDefaultToSpeaker},
	{session.OptionAllowBluetoothA2DP, malgo.IOSSessionCategoryOptionAllowBluetoothA2dp},
}

func sessionOptions(o session.Options) malgo.IOSSessionCategoryOptions {
	var flags malgo.IOSSessionCategoryOptions
	for _, f := range optionFlags {
		if o.Has(f.opt) {
			flags |= f.flag
		}
	}
	return flags
}

// classify 把设备被占用之类的结果归为瞬时忙
func classify(err error) error {
	if errors.Is(err, malgo.ErrBusy) ||
		errors.Is(err, malgo.ErrAlreadyInUse) ||
		errors.Is(err, malgo.ErrDeviceNotStopped) {
		return fmt.Errorf("%w: %v", session.ErrDeviceBusy, err)
	}
	return err
}
