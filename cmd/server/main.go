package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/amanullahtanweer/sign-relay/internal/gateway"
	"github.com/amanullahtanweer/sign-relay/internal/inference"
	"github.com/amanullahtanweer/sign-relay/internal/observe"
	"github.com/amanullahtanweer/sign-relay/internal/sessionvars"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Inference struct {
		ServiceURL      string `yaml:"service_url"`
		SubmitTimeoutMs int    `yaml:"submit_timeout_ms"`
		RetryIntervalMs int    `yaml:"retry_interval_ms"`
	} `yaml:"inference"`
	Redis struct {
		Addr      string `yaml:"addr"`
		KeyPrefix string `yaml:"key_prefix"`
		TTLHours  int    `yaml:"ttl_hours"`
	} `yaml:"redis"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	config := &Config{}
	if err := loadConfig(configFile, config); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer shutdownMetrics(context.Background())
	met := observe.DefaultMetrics()

	vars := sessionvars.New(
		config.Redis.Addr,
		config.Redis.KeyPrefix,
		time.Duration(config.Redis.TTLHours)*time.Hour,
	)
	defer vars.Close()

	link := inference.New(inference.Config{
		ServiceURL:    config.Inference.ServiceURL,
		SubmitTimeout: time.Duration(config.Inference.SubmitTimeoutMs) * time.Millisecond,
		RetryInterval: time.Duration(config.Inference.RetryIntervalMs) * time.Millisecond,
		OnStateChange: func(s inference.State) {
			met.RecordLinkState(context.Background(), s.String())
		},
	})
	link.Start()
	defer link.Close()

	gw := gateway.New(link, vars, met)
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	srv := &http.Server{Addr: addr, Handler: gw.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func loadConfig(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	return decoder.Decode(config)
}
