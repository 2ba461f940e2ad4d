//go:build windows

package main

import "os"

var toggleRecordingSignals []os.Signal

func isToggleRecording(os.Signal) bool { return false }
