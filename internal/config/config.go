package config

import "net/http/cookiejar"

const AppName = "snapsite"

type Config struct {
	Logger LoggerConfig `mapstructure:"logger" json:"logger"`

	Elasticsearch struct {
		Enabled         bool   `mapstructure:"enabled" json:"enabled"`
		Username        string `mapstructure:"username" json:"username"`
		Password        string `mapstructure:"password" json:"password"`
		Address         string `mapstructure:"address" json:"address"`
		BatchSize       int    `mapstructure:"batch_size" json:"batch_size"`
		FlushIntervalMs int    `mapstructure:"flush_interval_ms" json:"flush_interval_ms"`
	} `mapstructure:"elasticsearch" json:"elasticsearch"`

	Rod struct {
		UserMode                         bool   `mapstructure:"user_mode" json:"user_mode"`
		UserDataDir                      string `mapstructure:"user_data_dir" json:"user_data_dir"`
		Headless                         bool   `mapstructure:"headless" json:"headless"`
		DisableBlinkFeatures             string `mapstructure:"disable_blink_features" json:"disable_blink_features"`
		Incognito                        bool   `mapstructure:"incognito" json:"incognito"`
		DisableDevShmUsage               bool   `mapstructure:"disable_dev_shm_usage" json:"disable_dev_shm_usage"`
		NoSandbox                        bool   `mapstructure:"no_sandbox" json:"no_sandbox"`
		UserAgent                        string `mapstructure:"user_agent" json:"user_agent"`
		Leakless                         bool   `mapstructure:"leakless" json:"leakless"`
		Bin                              string `mapstructure:"bin" json:"bin"`
		DisableBackgroundNetworking      bool   `mapstructure:"disable_background_networking" json:"disable_background_networking"`
		DisableBackgroundTimerThrottling bool   `mapstructure:"disable_background_timer_throttling" json:"disable_background_timer_throttling"`
		Stealth                          bool   `mapstructure:"stealth" json:"stealth"`
		WindowWidth                      int    `mapstructure:"window_width" json:"window_width"`
		WindowHeight                     int    `mapstructure:"window_height" json:"window_height"`
	} `mapstructure:"rod" json:"rod"`

	Chromedp struct {
		LifeTime             int    `mapstructure:"life_time" json:"life_time"`
		UserDataDir          string `mapstructure:"user_data_dir" json:"user_data_dir"`
		Headless             bool   `mapstructure:"headless" json:"headless"`
		DisableBlinkFeatures string `mapstructure:"disable_blink_features" json:"disable_blink_features"`
		Incognito            bool   `mapstructure:"incognito" json:"incognito"`
		DisableDevShmUsage   bool   `mapstructure:"disable_dev_shm_usage" json:"disable_dev_shm_usage"`
		NoSandbox            bool   `mapstructure:"no_sandbox" json:"no_sandbox"`
		UserAgent            string `mapstructure:"user_agent" json:"user_agent"`
		ExecPath             string `mapstructure:"exec_path" json:"exec_path"`
		WindowWidth          int    `mapstructure:"window_width" json:"window_width"`
		WindowHeight         int    `mapstructure:"window_height" json:"window_height"`
	} `mapstructure:"chromedp" json:"chromedp"`

	Colly struct {
		UserAgent       string `mapstructure:"user_agent" json:"user_agent"`
		IgnoreRobotsTxt bool   `mapstructure:"ignore_robots_txt" json:"ignore_robots_txt"`
		Delay           int    `mapstructure:"delay" json:"delay"`
		RandomDelay     int    `mapstructure:"random_delay" json:"random_delay"`
		RequestTimeout  int    `mapstructure:"request_timeout" json:"request_timeout"`
		EnableCookieJar bool   `mapstructure:"enable_cookie_jar" json:"enable_cookie_jar"`
		// CookieJarOptions 由ParseConfig根据EnableCookieJar填充公共后缀表
		CookieJarOptions *cookiejar.Options `mapstructure:"-" json:"-"`
	} `mapstructure:"colly" json:"colly"`

	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
	Crawl   CrawlConfig   `mapstructure:"crawl" json:"crawl"`
}

type LoggerConfig struct {
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Level       string `mapstructure:"level" json:"level"`
	// Format console或json
	Format     string `mapstructure:"format" json:"format"`
	AddSource  bool   `mapstructure:"add_source" json:"add_source"`
	LogFile    string `mapstructure:"log_file" json:"log_file"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
	// RingSize 内存日志行数,PersistTail 警告/错误时持久化的尾部行数
	RingSize    int `mapstructure:"ring_size" json:"ring_size"`
	PersistTail int `mapstructure:"persist_tail" json:"persist_tail"`
}

type StorageConfig struct {
	// Dir 截图根目录,截图写入其下的screenshots子目录
	Dir     string `mapstructure:"dir" json:"dir"`
	StateDB string `mapstructure:"state_db" json:"state_db"`
}

type MetricsConfig struct {
	// Addr 为空时不启动/metrics
	Addr string `mapstructure:"addr" json:"addr"`
}

// CrawlConfig 爬取默认参数,命令行参数可覆盖
type CrawlConfig struct {
	MaxPages          int      `mapstructure:"max_pages" json:"max_pages"`
	MaxDepth          int      `mapstructure:"max_depth" json:"max_depth"`
	DelayMs           int      `mapstructure:"delay_ms" json:"delay_ms"`
	WaitForLoadMs     int      `mapstructure:"wait_for_load_ms" json:"wait_for_load_ms"`
	ExcludePatterns   []string `mapstructure:"exclude_patterns" json:"exclude_patterns"`
	FollowSubdomains  bool     `mapstructure:"follow_subdomains" json:"follow_subdomains"`
	IgnoreQueryParams bool     `mapstructure:"ignore_query_params" json:"ignore_query_params"`
	UsePublicSuffix   bool     `mapstructure:"use_public_suffix" json:"use_public_suffix"`
	LoadTimeoutMs     int      `mapstructure:"load_timeout_ms" json:"load_timeout_ms"`
	RetryBackoffMs    int      `mapstructure:"retry_backoff_ms" json:"retry_backoff_ms"`
	PaintDelayMs      int      `mapstructure:"paint_delay_ms" json:"paint_delay_ms"`
}
