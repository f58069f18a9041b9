package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/northledger/taxchat/internal/api"
	"github.com/northledger/taxchat/internal/flow"
	"github.com/northledger/taxchat/internal/genai"
	"github.com/northledger/taxchat/internal/store"
	"github.com/northledger/taxchat/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for taxchat state data
	DefaultStateDir = "/var/lib/taxchat"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "taxchat.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Token provisioning mode: issue a bearer token and exit.
	if *flags.issueToken != "" {
		token, err := util.GenerateAuthToken()
		if err != nil {
			slog.Error("Failed to generate auth token", "error", err)
			os.Exit(1)
		}
		if err := st.AddAuthToken(token, *flags.issueToken); err != nil {
			slog.Error("Failed to issue auth token", "error", err, "userID", *flags.issueToken)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	engine := buildEngine(flags)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}

	slog.Info("Bootstrapping taxchat with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "model", *flags.model)
	server := api.NewServer(st, engine, apiOpts...)
	if err := server.Run(); err != nil {
		slog.Error("taxchat failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("taxchat exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Model       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDSN      *string
	openaiKey  *string
	apiAddr    *string
	model      *string
	issueToken *string
}

// initializeLogger sets up structured logging; TAXCHAT_DEBUG enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("TAXCHAT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("TAXCHAT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Model:       os.Getenv("TAXCHAT_MODEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TAXCHAT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TAXCHAT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TAXCHAT_MODEL", config.Model)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for taxchat data (overrides $TAXCHAT_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		model:      flag.String("model", config.Model, "completion model (overrides $TAXCHAT_MODEL)"),
		issueToken: flag.String("issue-token", "", "issue a bearer token for the given user id and exit"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSN was left at its
	// SQLite default.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"model", *flags.model,
		"issueToken_set", *flags.issueToken != "")

	return flags
}

// openStore selects a backend from the DSN shape: Postgres URLs go to the
// Postgres store, anything else is treated as a SQLite path.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Info("Using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildEngine wires the completion client into the interview engine. A
// missing API key degrades the service: the chat endpoint reports 503 until
// a key is configured.
func buildEngine(flags Flags) *flow.Engine {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}

	client, err := genai.NewClient(genaiOpts...)
	if errors.Is(err, genai.ErrNotConfigured) {
		slog.Warn("No OpenAI API key configured; chat turns will be unavailable")
		return flow.NewEngine(nil)
	}
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		return flow.NewEngine(nil)
	}
	return flow.NewEngine(client)
}
