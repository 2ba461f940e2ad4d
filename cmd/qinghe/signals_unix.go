//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 切换睡眠录音
var toggleRecordingSignals = []os.Signal{syscall.SIGUSR1}

func isToggleRecording(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
