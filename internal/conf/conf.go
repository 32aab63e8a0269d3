package conf

import (
	"time"
)

// Bootstrap 配置文件根节点
type Bootstrap struct {
	BuildVersion string `toml:"-"`
	ConfigDir    string `toml:"-"`
	ConfigPath   string `toml:"-"`
	Debug        bool   `toml:"-"`

	Server Server `toml:"server" comment:"服务配置"`
	Data   Data   `toml:"data" comment:"数据存储"`
	Log    Log    `toml:"log" comment:"日志"`
	Editor Editor `toml:"editor" comment:"剪辑"`
}

// Server 服务配置
type Server struct {
	Debug bool       `toml:"debug" comment:"调试模式，输出更多日志"`
	HTTP  ServerHTTP `toml:"http"`
}

// ServerHTTP HTTP 服务
type ServerHTTP struct {
	Port    int         `toml:"port" comment:"监听端口"`
	Timeout Duration    `toml:"timeout" comment:"请求超时，不作用于合成的 SSE 接口"`
	PProf   ServerPPROF `toml:"pprof"`
}

// ServerPPROF 性能分析
type ServerPPROF struct {
	Enabled   bool     `toml:"enabled"`
	AccessIps []string `toml:"access_ips" comment:"允许访问的 ip，留空时不限制"`
}

// Data 数据存储
type Data struct {
	Database Database `toml:"database"`
}

// Database 数据库
type Database struct {
	Dsn             string   `toml:"dsn" comment:"sqlite 填写文件名，postgres:// 或 mysql:// 开头使用对应数据库"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold" comment:"慢查询阈值"`
}

// Log 日志
type Log struct {
	Dir          string   `toml:"dir" comment:"日志目录"`
	Level        string   `toml:"level" comment:"debug/info/warn/error"`
	MaxAge       Duration `toml:"max_age" comment:"日志保留时间"`
	RotationTime Duration `toml:"rotation_time" comment:"日志切分间隔"`
}

// Editor 剪辑配置
type Editor struct {
	MaxSources int    `toml:"max_sources" comment:"单个工程最多打开的源文件数"`
	MaxCuts    int    `toml:"max_cuts" comment:"单个工程最多的剪辑段数"`
	OutputDir  string `toml:"output_dir" comment:"合成文件目录，相对于程序目录"`
	TempDir    string `toml:"temp_dir" comment:"转码临时文件目录"`
	FFmpegBin  string `toml:"ffmpeg_bin" comment:"ffmpeg 可执行文件"`
	// Bitrate 转码码率(bps)，0 表示按源文件估算
	Bitrate            int64   `toml:"bitrate" comment:"转码码率(bps)，0 表示按源文件平均码率估算"`
	RetainDays         int     `toml:"retain_days" comment:"合成文件保留天数，0 表示不清理"`
	DiskUsageThreshold float64 `toml:"disk_usage_threshold" comment:"磁盘使用率超过该值(%)时清理最旧的合成文件，0 表示不清理"`
	MinFreeMB          uint64  `toml:"min_free_mb" comment:"合成前要求的最小剩余空间(MB)"`
}

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    15124,
				Timeout: Duration(60 * time.Second),
				PProf: ServerPPROF{
					AccessIps: []string{"::1", "127.0.0.1"},
				},
			},
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Log: Log{
			Dir:          "./logs",
			Level:        "info",
			MaxAge:       Duration(7 * 24 * time.Hour),
			RotationTime: Duration(12 * time.Hour),
		},
		Editor: Editor{
			MaxSources:         32,
			MaxCuts:            256,
			OutputDir:          "./outputs",
			TempDir:            "./tmp",
			FFmpegBin:          "ffmpeg",
			RetainDays:         7,
			DiskUsageThreshold: 95,
			MinFreeMB:          1024,
		},
	}
}

// Duration 支持 "1m30s" 形式的时长
type Duration time.Duration

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	x, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(x)
	return nil
}

// MarshalText 实现 encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration 转为 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
