package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Pipeline    Pipeline      `yaml:"pipeline"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

// Pipeline holds the validation/delivery tunables. Zero values are filled
// with defaults in Load so a minimal config.yaml still yields a working
// pipeline.
type Pipeline struct {
	ProbeTimeout          time.Duration `yaml:"probe_timeout"`
	ProbeMaxAttempts      int           `yaml:"probe_max_attempts"`
	HostWindow            time.Duration `yaml:"host_window"`
	HostWindowMax         int           `yaml:"host_window_max"`
	VideoDeadline         time.Duration `yaml:"video_deadline"`
	MaxScanSegments       int           `yaml:"max_scan_segments"`
	ValidationConcurrency int           `yaml:"validation_concurrency"`
	DefaultSegmentLength  float64       `yaml:"default_segment_length"`
	TokenTTL              time.Duration `yaml:"token_ttl"`
	TokenSecret           string        `yaml:"token_secret"`
	InsecureUpstream      bool          `yaml:"insecure_upstream"`
	WebhookURL            string        `yaml:"webhook_url"`
	WebhookThreshold      int           `yaml:"webhook_threshold"`
	ScanInterval          time.Duration `yaml:"scan_interval"`
	PlaylistCacheTTL      time.Duration `yaml:"playlist_cache_ttl"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	pipeline := Pipeline{
		ProbeTimeout:          viper.GetDuration("pipeline.probe_timeout"),
		ProbeMaxAttempts:      viper.GetInt("pipeline.probe_max_attempts"),
		HostWindow:            viper.GetDuration("pipeline.host_window"),
		HostWindowMax:         viper.GetInt("pipeline.host_window_max"),
		VideoDeadline:         viper.GetDuration("pipeline.video_deadline"),
		MaxScanSegments:       viper.GetInt("pipeline.max_scan_segments"),
		ValidationConcurrency: viper.GetInt("pipeline.validation_concurrency"),
		DefaultSegmentLength:  viper.GetFloat64("pipeline.default_segment_length"),
		TokenTTL:              viper.GetDuration("pipeline.token_ttl"),
		TokenSecret:           viper.GetString("pipeline.token_secret"),
		InsecureUpstream:      viper.GetBool("pipeline.insecure_upstream"),
		WebhookURL:            viper.GetString("pipeline.webhook_url"),
		WebhookThreshold:      viper.GetInt("pipeline.webhook_threshold"),
		ScanInterval:          viper.GetDuration("pipeline.scan_interval"),
		PlaylistCacheTTL:      viper.GetDuration("pipeline.playlist_cache_ttl"),
	}
	pipeline.applyDefaults()

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		DB:       db,
		Queue:    rabbitmq,
		Storage:  minioClient,
		Pipeline: pipeline,
	}, nil
}

func (p *Pipeline) applyDefaults() {
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = 15 * time.Second
	}
	if p.ProbeMaxAttempts <= 0 {
		p.ProbeMaxAttempts = 3
	}
	if p.HostWindow <= 0 {
		p.HostWindow = 60 * time.Second
	}
	if p.HostWindowMax <= 0 {
		p.HostWindowMax = 6
	}
	if p.VideoDeadline <= 0 {
		p.VideoDeadline = 120 * time.Second
	}
	if p.MaxScanSegments <= 0 {
		p.MaxScanSegments = 300
	}
	if p.ValidationConcurrency <= 0 {
		p.ValidationConcurrency = 6
	}
	if p.DefaultSegmentLength <= 0 {
		p.DefaultSegmentLength = 6
	}
	if p.TokenTTL <= 0 {
		p.TokenTTL = 2 * time.Minute
	}
	if p.WebhookThreshold <= 0 {
		p.WebhookThreshold = 1
	}
	if p.PlaylistCacheTTL <= 0 {
		p.PlaylistCacheTTL = 25 * time.Second
	}
}
