// Package main provides the entry point of the refresh-token helper: an HTTP
// service that walks an operator through the OpenAI OAuth PKCE flow, plus a
// terminal login mode that does the same with a local callback listener.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/loLollipop/refresh-token-got-it/internal/buildinfo"
	"github.com/loLollipop/refresh-token-got-it/internal/cmd"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/misc"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var login bool
	var noBrowser bool
	var copyToken bool
	var showVersion bool
	var initConfig bool
	var configPath string

	flag.BoolVar(&login, "login", false, "Run the OAuth flow in the terminal and print the refresh token")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&copyToken, "copy", false, "Copy the refresh token to the clipboard after -login")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.BoolVar(&initConfig, "init-config", false, "Create the config file from config.example.yaml when it is missing")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.Parse()

	if showVersion {
		fmt.Printf("refresh-token-got-it Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	if initConfig {
		if errInit := bootstrapConfig(filepath.Join(wd, "config.example.yaml"), configFilePath); errInit != nil {
			log.Errorf("failed to initialize config: %v", errInit)
			os.Exit(1)
		}
	}

	cfg, err := config.LoadConfigOptional(configFilePath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	util.SetLogLevel(cfg)
	log.Infof("refresh-token-got-it Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	if login {
		cmd.DoLogin(cfg, &cmd.LoginOptions{
			NoBrowser:       noBrowser,
			CopyToClipboard: copyToken,
		})
		return
	}
	cmd.StartService(cfg, configFilePath)
}

// bootstrapConfig copies the example config to dst unless dst already exists.
func bootstrapConfig(examplePath, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := misc.CopyConfigTemplate(examplePath, dst); err != nil {
		return err
	}
	log.Infof("config initialized from template: %s", dst)
	return nil
}
