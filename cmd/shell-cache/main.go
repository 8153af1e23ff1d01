package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/shell-cache/shell-cache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	originFlag         string
	versionFlag        string
	prefixFlag         string
	portFlag           int
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&versionFlag, "version", "", "Cache version identifier (overrides config)")
	flag.StringVar(&prefixFlag, "prefix", "", "Cache namespace prefix (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
}

// getConfig merges the config file, environment and flag overrides.
// It is re-run on every install request, so a config edit plus a POST to
// /-/install rolls a new version without restarting the server.
func getConfig() (Config, error) {
	config, err := loadConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if versionFlag != "" {
		config.Version = versionFlag
	}
	if prefixFlag != "" {
		config.Prefix = prefixFlag
	}
	if config.Origin == "" {
		return config, fmt.Errorf("please specify origin")
	}
	if config.Version == "" {
		return config, fmt.Errorf("please specify cache version")
	}
	return config, nil
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter)

	config, err := getConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	dbFilename := dbFilenameFlag
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}

	srv := &server{
		storage: cache.NewSQLiteStorage(dbFilename),
		log:     log.Logger,
		reload:  getConfig,
	}

	if err := srv.deploy(context.Background(), config); err != nil {
		log.Fatal().Err(err).Msg("Could not deploy initial version")
	}

	r := chi.NewRouter()
	r.Get("/-/status", srv.handleStatus)
	r.Post("/-/install", srv.handleInstall)
	r.Handle("/*", srv)

	log.Info().Msgf("Serving port %v from %s (version '%s')", portFlag, config.Origin, config.Version)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		panic(err)
	}
}
