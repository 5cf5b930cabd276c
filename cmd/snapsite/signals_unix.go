//go:build unix

package main

import (
	"os"
	"syscall"
)

var (
	pauseSignal  os.Signal = syscall.SIGUSR1
	resumeSignal os.Signal = syscall.SIGUSR2
)

func controlSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, pauseSignal, resumeSignal}
}
