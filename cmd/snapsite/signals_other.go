//go:build !unix

package main

import "os"

// 非unix平台只支持停止
var (
	pauseSignal  os.Signal
	resumeSignal os.Signal
)

func controlSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
