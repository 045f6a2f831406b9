package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	Port          int    `toml:"port"`
	Mode          string `toml:"mode"`
	PublicBaseURL string `toml:"public_base_url"`
	DownloadDir   string `toml:"download_dir"`
}

type JimengConfig struct {
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ServiceName     string `toml:"service_name"`
	Region          string `toml:"region"`
	Host            string `toml:"host"`
	Version         string `toml:"version"`
	ReqKey          string `toml:"req_key"`
}

type WanxiangConfig struct {
	APIKey     string `toml:"api_key"`
	Host       string `toml:"host"`
	Model      string `toml:"model"`
	Resolution string `toml:"resolution"`
}

type TaskConfig struct {
	PollInterval    Duration `toml:"poll_interval"`
	MaxPollFailures int      `toml:"max_poll_failures"`
}

type MediaConfig struct {
	FFmpegPath     string   `toml:"ffmpeg_path"`
	FFprobePath    string   `toml:"ffprobe_path"`
	LoadTimeout    Duration `toml:"load_timeout"`
	ComposeFPS     int      `toml:"compose_fps"`
	ComposeBitrate string   `toml:"compose_bitrate"`
	PersistTimeout Duration `toml:"persist_timeout"`
}

type GraphDBConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Jimeng   JimengConfig   `toml:"jimeng"`
	Wanxiang WanxiangConfig `toml:"wanxiang"`
	Task     TaskConfig     `toml:"task"`
	Media    MediaConfig    `toml:"media"`
	GraphDB  GraphDBConfig  `toml:"graphdb"`
}

// Duration unmarshals TOML strings like "5s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          3001,
			Mode:          "dev",
			PublicBaseURL: "http://localhost:3001",
			DownloadDir:   "ti2v_videos",
		},
		Jimeng: JimengConfig{
			ServiceName: "cv",
			Region:      "cn-north-1",
			Host:        "visual.volcengineapi.com",
			Version:     "2022-08-31",
			ReqKey:      "jimeng_ti2v_v30_pro",
		},
		Wanxiang: WanxiangConfig{
			Host:       "https://dashscope.aliyuncs.com",
			Model:      "wanx2.1-kf2v-plus",
			Resolution: "720P",
		},
		Task: TaskConfig{
			PollInterval:    Duration(5 * time.Second),
			MaxPollFailures: 5,
		},
		Media: MediaConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			LoadTimeout:    Duration(10 * time.Second),
			ComposeFPS:     30,
			ComposeBitrate: "5M",
			PersistTimeout: Duration(60 * time.Second),
		},
	}
}

// Load reads a TOML config file and applies environment overrides on top.
// A missing file is not an error: defaults plus env vars are used instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config '%s': %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		cfg.Server.DownloadDir = v
	}
	if v := os.Getenv("VOLC_ACCESS_KEY_ID"); v != "" {
		cfg.Jimeng.AccessKeyID = v
	}
	if v := os.Getenv("VOLC_SECRET_ACCESS_KEY"); v != "" {
		cfg.Jimeng.SecretAccessKey = v
	}
	if v := os.Getenv("DASHSCOPE_API_KEY"); v != "" {
		cfg.Wanxiang.APIKey = v
	}
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		cfg.GraphDB.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		cfg.GraphDB.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		cfg.GraphDB.Password = v
	}
}
