package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"snapearth-map-go/internal/catalog"
)

// EnvPrefix prefixes every environment setting, e.g. SNAPEARTH_GRPC_HOST.
const EnvPrefix = "SNAPEARTH"

// CatalogConfig holds the catalog channel settings.
type CatalogConfig struct {
	Host                    string
	Port                    int
	UseSSL                  bool
	MaxReceiveMessageLength int
	MaxSendMessageLength    int
	KeepaliveTimeout        time.Duration
	MaxResults              int
}

type AppConfig struct {
	Port            int
	Workers         int
	Debug           bool
	DebugProducts   int
	DebugInterval   time.Duration
	OutputDir       string
	RawLogEnabled   bool
	RawLogDir       string
	ReplayPath      string
	DBPath          string
	PaletteFile     string
	PublishEndpoint string
	IngestLogEvery  int
	Opacity         float64
	Catalog         CatalogConfig
}

func Defaults() AppConfig {
	return AppConfig{
		Port:           8888,
		Workers:        4,
		DebugProducts:  12,
		DebugInterval:  250 * time.Millisecond,
		OutputDir:      "output",
		RawLogDir:      "rawlog",
		DBPath:         "snapearth.db",
		IngestLogEvery: 100,
		Opacity:        0.8,
		Catalog: CatalogConfig{
			Host:                    "localhost",
			Port:                    50051,
			MaxReceiveMessageLength: 256 << 20,
			MaxSendMessageLength:    16 << 20,
			KeepaliveTimeout:        20 * time.Second,
			MaxResults:              1,
		},
	}
}

// Load layers an optional dotenv file and SNAPEARTH_* variables over the
// defaults. Variables already in the environment win over the file. A
// missing file is not an error.
func Load(envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Defaults()
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", cfg.Port)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("raw_log", cfg.RawLogEnabled)
	v.SetDefault("raw_log_dir", cfg.RawLogDir)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("palette_file", cfg.PaletteFile)
	v.SetDefault("publish_endpoint", cfg.PublishEndpoint)
	v.SetDefault("grpc.host", cfg.Catalog.Host)
	v.SetDefault("grpc.port", cfg.Catalog.Port)
	v.SetDefault("grpc.use_ssl", cfg.Catalog.UseSSL)
	v.SetDefault("grpc.max_receive_message_length", cfg.Catalog.MaxReceiveMessageLength)
	v.SetDefault("grpc.max_send_message_length", cfg.Catalog.MaxSendMessageLength)
	v.SetDefault("grpc.keepalive_timeout_ms", cfg.Catalog.KeepaliveTimeout.Milliseconds())
	v.SetDefault("grpc.max_results", cfg.Catalog.MaxResults)

	cfg.Port = v.GetInt("port")
	cfg.Workers = v.GetInt("workers")
	cfg.Debug = v.GetBool("debug")
	cfg.OutputDir = v.GetString("output_dir")
	cfg.RawLogEnabled = v.GetBool("raw_log")
	cfg.RawLogDir = v.GetString("raw_log_dir")
	cfg.DBPath = v.GetString("db_path")
	cfg.PaletteFile = v.GetString("palette_file")
	cfg.PublishEndpoint = v.GetString("publish_endpoint")
	cfg.Catalog.Host = v.GetString("grpc.host")
	cfg.Catalog.Port = v.GetInt("grpc.port")
	cfg.Catalog.UseSSL = v.GetBool("grpc.use_ssl")
	cfg.Catalog.MaxReceiveMessageLength = v.GetInt("grpc.max_receive_message_length")
	cfg.Catalog.MaxSendMessageLength = v.GetInt("grpc.max_send_message_length")
	cfg.Catalog.KeepaliveTimeout = time.Duration(v.GetInt64("grpc.keepalive_timeout_ms")) * time.Millisecond
	cfg.Catalog.MaxResults = v.GetInt("grpc.max_results")
	return cfg, nil
}

// RegisterFlags binds every setting to fs, using the current values as
// defaults so that flags override the environment.
func (c *AppConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "HTTP port for the web UI")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Number of render workers")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Serve a simulated catalog instead of the remote one")
	fs.IntVar(&c.DebugProducts, "debug-products", c.DebugProducts, "Number of simulated products")
	fs.DurationVar(&c.DebugInterval, "debug-interval", c.DebugInterval, "Delay between simulated products")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "Directory for overlays and metadata tables")
	fs.BoolVar(&c.RawLogEnabled, "raw-log", c.RawLogEnabled, "Write raw catalog responses to disk")
	fs.StringVar(&c.RawLogDir, "raw-log-dir", c.RawLogDir, "Directory for raw catalog logs")
	fs.StringVar(&c.ReplayPath, "replay", c.ReplayPath, "Render a raw catalog log instead of querying")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite metadata database (empty disables it)")
	fs.StringVar(&c.PaletteFile, "palette", c.PaletteFile, "YAML color table overriding the built-in one")
	fs.StringVar(&c.PublishEndpoint, "publish", c.PublishEndpoint, "ZMQ endpoint to publish overlays on (empty disables it)")
	fs.IntVar(&c.IngestLogEvery, "ingest-log-every", c.IngestLogEvery, "Log every Nth ingest error")
	fs.Float64Var(&c.Opacity, "opacity", c.Opacity, "Overlay opacity in the web UI")
	fs.StringVar(&c.Catalog.Host, "grpc-host", c.Catalog.Host, "Catalog host")
	fs.IntVar(&c.Catalog.Port, "grpc-port", c.Catalog.Port, "Catalog port")
	fs.BoolVar(&c.Catalog.UseSSL, "grpc-use-ssl", c.Catalog.UseSSL, "Use TLS for the catalog channel")
	fs.IntVar(&c.Catalog.MaxReceiveMessageLength, "grpc-max-receive", c.Catalog.MaxReceiveMessageLength, "Largest catalog message accepted, in bytes")
	fs.IntVar(&c.Catalog.MaxSendMessageLength, "grpc-max-send", c.Catalog.MaxSendMessageLength, "Largest catalog message sent, in bytes")
	fs.DurationVar(&c.Catalog.KeepaliveTimeout, "grpc-keepalive", c.Catalog.KeepaliveTimeout, "Catalog keepalive interval and timeout")
	fs.IntVar(&c.Catalog.MaxResults, "max-results", c.Catalog.MaxResults, "Default number of products per query")
}

// Parse loads the environment (dotenv file from SNAPEARTH_ENV_FILE, default
// .env) and then applies command line args.
func Parse(name string, args []string) (AppConfig, error) {
	envFile := os.Getenv(EnvPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := Load(envFile)
	if err != nil {
		return AppConfig{}, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return AppConfig{}, err
	}
	return cfg, cfg.Validate()
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Opacity < 0 || c.Opacity > 1 {
		errs = append(errs, fmt.Errorf("opacity %v outside [0, 1]", c.Opacity))
	}
	if c.IngestLogEvery < 1 {
		errs = append(errs, fmt.Errorf("ingest-log-every must be positive, got %d", c.IngestLogEvery))
	}
	if c.Catalog.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("max-results must be positive, got %d", c.Catalog.MaxResults))
	}
	if !c.Debug && c.ReplayPath == "" {
		if c.Catalog.Host == "" {
			errs = append(errs, errors.New("catalog host is required"))
		}
		if c.Catalog.Port < 1 || c.Catalog.Port > 65535 {
			errs = append(errs, fmt.Errorf("catalog port %d out of range", c.Catalog.Port))
		}
	}
	if c.Debug && c.DebugProducts < 1 {
		errs = append(errs, fmt.Errorf("debug-products must be positive, got %d", c.DebugProducts))
	}
	return errors.Join(errs...)
}

func (c AppConfig) CatalogOptions() catalog.Options {
	return catalog.Options{
		Host:                    c.Catalog.Host,
		Port:                    c.Catalog.Port,
		UseSSL:                  c.Catalog.UseSSL,
		MaxReceiveMessageLength: c.Catalog.MaxReceiveMessageLength,
		MaxSendMessageLength:    c.Catalog.MaxSendMessageLength,
		KeepaliveTimeout:        c.Catalog.KeepaliveTimeout,
	}
}
