package options

import (
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
)

// LauncherOption rod启动器选项
type LauncherOption func(l *launcher.Launcher)

// CreateLauncher userMode为true时复用本机已安装的浏览器与用户配置
func CreateLauncher(userMode bool, opts ...LauncherOption) *launcher.Launcher {
	var l *launcher.Launcher
	if userMode {
		l = launcher.NewUserMode()
	} else {
		l = launcher.New()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func WithBin(bin string) LauncherOption {
	return func(l *launcher.Launcher) {
		if bin != "" {
			l.Bin(bin)
		}
	}
}

func WithUserDataDir(dir string) LauncherOption {
	return func(l *launcher.Launcher) {
		if dir != "" {
			l.UserDataDir(dir)
		}
	}
}

func WithHeadless(headless bool) LauncherOption {
	return func(l *launcher.Launcher) {
		l.Headless(headless)
	}
}

func WithDisableBlinkFeatures(features string) LauncherOption {
	return func(l *launcher.Launcher) {
		if features != "" {
			l.Set("disable-blink-features", features)
		}
	}
}

func WithIncognito(incognito bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if incognito {
			l.Set("incognito")
		}
	}
}

func WithDisableDevShmUsage(disable bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if disable {
			l.Set("disable-dev-shm-usage")
		}
	}
}

func WithNoSandbox(noSandbox bool) LauncherOption {
	return func(l *launcher.Launcher) {
		l.NoSandbox(noSandbox)
	}
}

func WithUserAgent(ua string) LauncherOption {
	return func(l *launcher.Launcher) {
		if ua != "" {
			l.Set("user-agent", ua)
		}
	}
}

func WithLeakless(leakless bool) LauncherOption {
	return func(l *launcher.Launcher) {
		l.Leakless(leakless)
	}
}

func WithDisableBackgroundNetworking(disable bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if disable {
			l.Set("disable-background-networking")
		} else {
			l.Delete("disable-background-networking")
		}
	}
}

// WithDisableBackgroundTimerThrottling 后台页面截图时需要关闭计时器节流
func WithDisableBackgroundTimerThrottling(disable bool) LauncherOption {
	return func(l *launcher.Launcher) {
		if disable {
			l.Set("disable-background-timer-throttling")
			l.Set("disable-renderer-backgrounding")
			l.Set("disable-backgrounding-occluded-windows")
		}
	}
}

func WithWindowSize(width, height int) LauncherOption {
	return func(l *launcher.Launcher) {
		if width > 0 && height > 0 {
			l.Set("window-size", fmt.Sprintf("%d,%d", width, height))
		}
	}
}
