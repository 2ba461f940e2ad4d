package session

import (
	"errors"
	"fmt"
)

// StatusCannotStartPlaying 平台在独占锁被其他进程或操作持有时返回的状态码（'!pla'）
const StatusCannotStartPlaying int32 = 561015905

var (
	ErrDeviceBusy           = errors.New("audio device busy")
	ErrInvalidConfiguration = errors.New("invalid audio session configuration")
	ErrClosed               = errors.New("audio session arbiter closed")
)

// StatusError 平台音频层返回的原始状态码
type StatusError struct {
	Code int32
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("audio session status %d", e.Code)
	}
	return fmt.Sprintf("audio session status %d: %s", e.Code, e.Msg)
}

// Is 让瞬时忙状态码与 ErrDeviceBusy 等价
func (e *StatusError) Is(target error) bool {
	return target == ErrDeviceBusy && e.Code == StatusCannotStartPlaying
}

// IsTransientBusy 判断错误是否为可忽略的瞬时忙
func IsTransientBusy(err error) bool {
	return err != nil && errors.Is(err, ErrDeviceBusy)
}

// Stage 失败发生的步骤
type Stage string

const (
	StageConfigure Stage = "configure"
	StageActivate  Stage = "activate"
)

// SessionError 携带操作名与请求角色，便于诊断
type SessionError struct {
	Op    string
	Role  Role
	Stage Stage
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s (role %s) %s failed: %v", e.Op, e.Role, e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Outcome 单次操作的结果分类
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeBusyIgnored
	OutcomeDeferred
	OutcomeConfigurationFailed
	OutcomeActivationFailed
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeBusyIgnored:
		return "busy_ignored"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeConfigurationFailed:
		return "configuration_failed"
	case OutcomeActivationFailed:
		return "activation_failed"
	case OutcomeClosed:
		return "closed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result 仲裁操作的返回值，调用方可以直接忽略
type Result struct {
	Op      string
	Outcome Outcome
	Role    Role // 操作结束后的角色
	Err     error
}

// OK 对状态机而言操作是否成功；瞬时忙与延后都算成功
func (r Result) OK() bool {
	switch r.Outcome {
	case OutcomeApplied, OutcomeBusyIgnored, OutcomeDeferred:
		return true
	default:
		return false
	}
}
