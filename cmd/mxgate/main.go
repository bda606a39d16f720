package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mxchat/mxgate/gateway"
	"github.com/mxchat/mxgate/pkg/config"
	"github.com/mxchat/mxgate/storage"
)

func main() {
	log.Println("Starting MXChat gateway...")

	// Config dir next to the binary, falling back to the CWD
	exe, _ := os.Executable()
	configDir := filepath.Join(filepath.Dir(exe), "config")
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		cwd, _ := os.Getwd()
		configDir = filepath.Join(cwd, "config")
	}

	yamlPath := os.Getenv("MXGATE_CONFIG")
	if yamlPath == "" {
		yamlPath = filepath.Join(configDir, "gateway.yaml")
	}

	cfg, err := config.LoadGatewayConfig(yamlPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// env.config provides the same MXGATE_* keys when the process
	// environment does not set them
	envConfig := config.ReadEnvConfig(filepath.Join(configDir, "env.config"))
	cfg.ApplyEnv(func(k string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return envConfig[k]
	})

	profiles := config.NewStore(cfg.ProfilePath, cfg.TemplatePath)
	if p := profiles.Active(); !p.IsZero() {
		log.Printf("Active profile: model=%s url=%s", p.Model, p.URL)
	} else {
		log.Printf("No active profile configured yet")
	}

	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Printf("Failed to open event storage, continuing without it: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	srv := gateway.New(*cfg, profiles, store)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Printf("Gateway ready on http://%s:%d", cfg.Host, cfg.Port)
	log.Println("Waiting for connections...")

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		// Failing to bind the listener is the one fatal condition
		log.Fatalf("Gateway failed: %v", err)
	case <-c:
		log.Println("Gateway shutting down...")
		srv.Stop()
	}
}
