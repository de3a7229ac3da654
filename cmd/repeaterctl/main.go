package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/pistelink/internal/config"
	"github.com/danmuck/pistelink/internal/display"
	"github.com/danmuck/pistelink/internal/observability"
	"github.com/danmuck/pistelink/internal/repeater"
	"github.com/danmuck/pistelink/internal/serialport"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/repeaterctl/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "config path (empty uses defaults)")
	envPath := flag.String("env", ".env", "optional .env file")
	writeTemplate := flag.Bool("init", false, "write a config template to -config and exit")
	force := flag.Bool("force", false, "overwrite an existing config with -init")
	validate := flag.Bool("validate", false, "validate -config and exit")
	listPorts := flag.Bool("list-ports", false, "print serial devices and exit")
	flag.Parse()

	if *writeTemplate {
		if err := config.WriteTemplate(*configPath, *force); err != nil {
			fail(err)
		}
		fmt.Printf("wrote config template to %s\n", *configPath)
		return
	}
	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			fail(err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if err := config.LoadEnv(*envPath); err != nil {
		fail(err)
	}
	path := *configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fail(err)
	}
	if *validate {
		fmt.Printf("validated config at %s\n", *configPath)
		return
	}

	observability.InitLogger("repeaterctl", cfg.Service.Piste)
	observability.RegisterMetrics()
	if path == "" {
		log.Info().Msg("no config file, using defaults")
	} else {
		log.Info().Str("path", path).Msg("loaded repeater config")
	}

	hub := display.NewHub(cfg.Service.CORSOrigins)
	defer hub.Close()
	sinks := display.Multi{hub}
	if cfg.Console {
		sinks = append(sinks, display.NewConsole(os.Stdout, cfg.Color))
	}
	sound := display.MultiSound{display.NewLogSound(), hub}

	svc, err := repeater.NewService(cfg.Service,
		repeater.WithDisplay(sinks),
		repeater.WithSound(sound),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build repeater")
	}
	if err := svc.Run(); err != nil {
		log.Error().Err(err).Msg("repeater stopped")
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "repeaterctl: %v\n", err)
	os.Exit(1)
}
