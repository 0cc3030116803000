package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	shelfvision "github.com/menta2k/shelf-vision"
	"github.com/menta2k/shelf-vision/internal/config"
	"github.com/menta2k/shelf-vision/internal/log"
	"github.com/menta2k/shelf-vision/internal/utils"
	"github.com/menta2k/shelf-vision/pkg/pipeline"
	"github.com/menta2k/shelf-vision/pkg/types"
)

func main() {
	var configPath, envPath string
	var mode, in, out, provider, model, url, labels, logLevel string
	var n int
	var seed int64
	var annotate, version bool

	flag.StringVar(&configPath, "config", "", "config file (.json, .yaml or .yml), defaults to ~/.config/shelf-vision/config.json when present")
	flag.StringVar(&envPath, "env", ".env", "env file holding the API key")
	flag.StringVar(&mode, "mode", "", "label|accuracy|products|boxes|prompt")
	flag.StringVar(&in, "in", "", "folder with the shelf images")
	flag.IntVar(&n, "n", 0, "number of images to sample (0=mode default, -1=all)")
	flag.Int64Var(&seed, "seed", 0, "sampling seed (0=time based)")
	flag.StringVar(&out, "out", "", "results JSON file, relative to -in unless absolute")
	flag.StringVar(&provider, "provider", "", "groq|openai|llamacpp|ollama|gemini")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&url, "url", "", "server base URL (defaults per provider)")
	flag.StringVar(&labels, "labels", "", "ground-truth root for accuracy mode")
	flag.BoolVar(&annotate, "annotate", true, "write annotated copies in boxes mode")
	flag.StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(shelfvision.GetVersion())
		return
	}

	bootstrap := logrus.New()
	if err := config.LoadEnv(envPath); err != nil {
		bootstrap.Fatal(err)
	}

	configPath = config.ResolveConfigPath(configPath)
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			bootstrap.Fatal(err)
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = types.Mode(strings.TrimSpace(mode))
		case "in":
			cfg.Input.Dir = in
		case "n":
			cfg.Input.SampleSize = n
		case "seed":
			cfg.Input.Seed = seed
		case "out":
			cfg.Output.ResultsFile = out
		case "provider":
			cfg.Backend.Provider = provider
			cfg.Backend.APIKeyEnv = config.DefaultAPIKeyEnv(provider)
		case "model":
			cfg.Backend.Model = model
		case "url":
			cfg.Backend.BaseURL = url
		case "labels":
			cfg.GroundTruth.Root = labels
		case "annotate":
			cfg.Annotate.Enabled = annotate
		case "log-level":
			cfg.Log.Level = logLevel
		}
	})
	cfg.ApplyModeDefaults()

	if err := cfg.Validate(); err != nil {
		bootstrap.Fatalf("%v\nusage: %s -mode label|accuracy|products|boxes|prompt -in folder [-n 20] [-labels root] [-provider groq]",
			err, filepath.Base(os.Args[0]))
	}

	logger, err := log.NewLogger(log.Options{Level: cfg.Log.Level, File: cfg.Log.File, NoColor: cfg.Log.NoColor})
	if err != nil {
		bootstrap.Fatal(err)
	}

	if !utils.DirExists(cfg.Input.Dir) {
		log.ErrorWithTraceID(logger, log.Fields{"dir": cfg.Input.Dir}, "input folder does not exist")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visionClient, err := shelfvision.NewClient(ctx, cfg)
	if err != nil {
		log.ErrorWithTraceID(logger, log.Fields{"provider": cfg.Backend.Provider, "error": err}, "failed to create model client")
		os.Exit(1)
	}

	inspector, err := shelfvision.New(cfg, visionClient, pipeline.WithLogger(logger))
	if err != nil {
		log.ErrorWithTraceID(logger, log.Fields{"error": err}, "failed to set up inspector")
		os.Exit(1)
	}
	defer inspector.Close()

	logger.WithFields(log.Fields{
		"mode":     cfg.Mode,
		"provider": cfg.Backend.Provider,
		"model":    cfg.Backend.Model,
		"dir":      cfg.Input.Dir,
	}).Info("starting")

	if _, err := inspector.Run(ctx); err != nil {
		log.ErrorWithTraceID(logger, log.Fields{"error": err}, "batch aborted")
		inspector.Close()
		stop()
		os.Exit(1)
	}
}
