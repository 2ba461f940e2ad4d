package session

import (
	"fmt"
	"strings"
)

// Role 表示当前占用音频会话的功能
type Role int

const (
	RoleNone Role = iota
	RoleAmbientPlayback
	RoleVoiceMessage
	RoleBackgroundRecording
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleAmbientPlayback:
		return "ambient_playback"
	case RoleVoiceMessage:
		return "voice_message"
	case RoleBackgroundRecording:
		return "background_recording"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Category 音频会话类别
type Category int

const (
	CategoryNone Category = iota // 尚未配置
	CategoryAmbient
	CategorySoloAmbient
	CategoryPlayback
	CategoryRecord
	CategoryPlayAndRecord
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryAmbient:
		return "ambient"
	case CategorySoloAmbient:
		return "solo_ambient"
	case CategoryPlayback:
		return "playback"
	case CategoryRecord:
		return "record"
	case CategoryPlayAndRecord:
		return "play_and_record"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Mode 音频会话模式
type Mode int

const (
	ModeDefault Mode = iota
	ModeVoiceChat
	ModeMeasurement
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeVoiceChat:
		return "voice_chat"
	case ModeMeasurement:
		return "measurement"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Options 类别选项位集合
type Options uint32

const (
	OptionMixWithOthers Options = 1 << iota
	OptionDuckOthers
	OptionAllowBluetooth
	OptionDefaultToSpeaker
	OptionAllowBluetoothA2DP
)

var optionNames = []struct {
	opt  Options
	name string
}{
	{OptionMixWithOthers, "mix_with_others"},
	{OptionDuckOthers, "duck_others"},
	{OptionAllowBluetooth, "allow_bluetooth"},
	{OptionDefaultToSpeaker, "default_to_speaker"},
	{OptionAllowBluetoothA2DP, "allow_bluetooth_a2dp"},
}

// Has 判断是否包含全部指定选项
func (o Options) Has(opt Options) bool { return o&opt == opt }

func (o Options) String() string {
	if o == 0 {
		return "none"
	}
	var parts []string
	for _, n := range optionNames {
		if o.Has(n.opt) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Configuration 描述设备的一组会话配置
type Configuration struct {
	Category Category
	Mode     Mode
	Options  Options
}

var (
	// PlaybackConfiguration 独占播放，不会被降级为可混音的次要音频
	PlaybackConfiguration = Configuration{Category: CategoryPlayback, Mode: ModeDefault}

	// VoiceMessageConfiguration 语音消息的双向通话配置
	VoiceMessageConfiguration = Configuration{
		Category: CategoryPlayAndRecord,
		Mode:     ModeDefault,
		Options:  OptionDefaultToSpeaker | OptionAllowBluetooth,
	}

	// RecordingConfiguration 整夜无人值守录音，允许与其他音频混音
	RecordingConfiguration = Configuration{
		Category: CategoryPlayAndRecord,
		Mode:     ModeMeasurement,
		Options:  OptionDefaultToSpeaker | OptionAllowBluetooth | OptionMixWithOthers,
	}
)

func (c Configuration) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Category, c.Mode, c.Options)
}

// Exclusive 报告该配置是否独占输出
func (c Configuration) Exclusive() bool {
	return !c.Options.Has(OptionMixWithOthers)
}

// HasInput 报告该配置是否需要采集
func (c Configuration) HasInput() bool {
	return c.Category == CategoryRecord || c.Category == CategoryPlayAndRecord
}

// Validate 校验类别、模式与选项组合
func (c Configuration) Validate() error {
	if c.Category == CategoryNone {
		return fmt.Errorf("%w: category not set", ErrInvalidConfiguration)
	}
	if c.Category < CategoryNone || c.Category > CategoryPlayAndRecord {
		return fmt.Errorf("%w: unknown category %s", ErrInvalidConfiguration, c.Category)
	}
	if c.Mode < ModeDefault || c.Mode > ModeMeasurement {
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidConfiguration, c.Mode)
	}
	if c.Options.Has(OptionDefaultToSpeaker) && c.Category != CategoryPlayAndRecord {
		return fmt.Errorf("%w: default_to_speaker requires play_and_record, got %s",
			ErrInvalidConfiguration, c.Category)
	}
	if c.Options.Has(OptionAllowBluetooth) && !c.HasInput() {
		return fmt.Errorf("%w: allow_bluetooth requires an input category, got %s",
			ErrInvalidConfiguration, c.Category)
	}
	if c.Mode == ModeVoiceChat && c.Category != CategoryPlayAndRecord {
		return fmt.Errorf("%w: voice_chat mode requires play_and_record, got %s",
			ErrInvalidConfiguration, c.Category)
	}
	if c.Mode == ModeMeasurement && c.Category == CategoryAmbient {
		return fmt.Errorf("%w: measurement mode not allowed for %s",
			ErrInvalidConfiguration, c.Category)
	}
	if c.Category == CategoryAmbient && c.Options.Has(OptionDuckOthers) {
		return fmt.Errorf("%w: ambient category already mixes", ErrInvalidConfiguration)
	}
	return nil
}
