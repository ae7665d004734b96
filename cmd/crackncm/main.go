package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/Carryma11/crack-ncm/artwork"
	"github.com/Carryma11/crack-ncm/batch"
	"github.com/Carryma11/crack-ncm/container"
	"github.com/Carryma11/crack-ncm/tag"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type Config struct {
	LogLevel       string `koanf:"log-level"`
	Path           string `koanf:"path"`
	Output         string `koanf:"output"`
	Workers        int    `koanf:"workers"`
	SkipArtwork    bool   `koanf:"skip-artwork"`
	ArtworkTimeout int    `koanf:"artwork-timeout"`
	ArtworkRetries uint64 `koanf:"artwork-retries"`
}

func loadConfig() (*Config, error) {
	flags := pflag.NewFlagSet("crackncm", pflag.ExitOnError)
	flags.String("config", "crackncm.yml", "path to the configuration file")
	flags.StringP("path", "p", ".", "directory containing .ncm files")
	flags.StringP("output", "o", "", "output directory (default <path>/output)")
	flags.IntP("workers", "w", 0, "number of concurrent decodes (default 80% of CPUs)")
	flags.Bool("skip-artwork", false, "do not download and embed album art")
	flags.String("log-level", "", "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"log-level":       "info",
		"artwork-timeout": 10,
		"artwork-retries": 3,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed loading default configuration: %w", err)
	}

	configPath, _ := flags.GetString("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed loading configuration file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed loading command line: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed unmarshalling configuration: %w", err)
	}
	return &cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed loading configuration")
	}

	logLevel, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatalf("invalid log level: %s", cfg.LogLevel)
	}
	log.SetLevel(logLevel)

	info, err := os.Stat(cfg.Path)
	if err != nil || !info.IsDir() {
		log.Fatalf("not a directory: %s", cfg.Path)
	}

	decoder := &container.Decoder{Tagger: &tag.Writer{}}
	if !cfg.SkipArtwork {
		client := &http.Client{Timeout: time.Duration(cfg.ArtworkTimeout) * time.Second}
		decoder.Artwork = artwork.NewFetcher(client, cfg.ArtworkRetries)
	}

	processor := &batch.Processor{
		Decoder:    decoder,
		OutputRoot: cfg.Output,
		Workers:    cfg.Workers,
		Log:        LogrusAdapter{log.NewEntry(log.StandardLogger())},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	summary, err := processor.Run(ctx, cfg.Path)
	if err != nil {
		log.WithError(err).Fatal("failed running batch conversion")
	}

	log.Infof("done: %d/%d converted, %d failed", summary.Succeeded, summary.Total, summary.Failed)
	if summary.Failed > 0 {
		log.Exit(1)
	}
}
