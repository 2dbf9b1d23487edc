package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentgraph/agentgraph-open/pkg/database"
	"github.com/agentgraph/agentgraph-open/pkg/service"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/engine"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// setupCommands initializes all commands and their relationships
func setupCommands() {
	migrateCmd.Flags().Bool("create-database", false, "Create the PostgreSQL database if it does not exist")

	tokenCmd.Flags().String("tenant", "", "Tenant id the token is valid for")
	tokenCmd.Flags().String("user", "", "User id recorded in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(setDBPasswordCmd)
}

// serveCmd runs the HTTP API and the gRPC health endpoint
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		svc := service.NewBaseService(
			"manageapi",
			Version,
			cfg.GetInt("server.grpc_port", 50070),
			cfg,
			engine.NewService(),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Run(ctx); err != nil {
			return fmt.Errorf("failed to run service: %w", err)
		}
		return nil
	},
}

// migrateCmd applies the schema for the configured database driver
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		createDB, _ := cmd.Flags().GetBool("create-database")
		if createDB && cfg.GetString("database.driver", string(database.DriverPostgres)) == string(database.DriverPostgres) {
			pgCfg, err := database.PostgresFromConfig(cfg)
			if err != nil {
				return err
			}
			if err := database.CreateDatabase(ctx, pgCfg); err != nil {
				return err
			}
		}

		db, closeDB, err := engine.OpenDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := store.New(db).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		fmt.Printf("Schema is up to date (%s)\n", db.Driver())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersionInfo()
	},
}

// tokenCmd signs a bearer token with auth.jwt_secret
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		secret := cfg.Get("auth.jwt_secret")
		if secret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}

		tenant, _ := cmd.Flags().GetString("tenant")
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := engine.SignToken([]byte(secret), tenant, user, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

// hashKeyCmd prints the auth.api_keys entry for an API key
var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <tenant_id> <api_key>",
	Short: "Print the auth.api_keys entry for an API key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := engine.HashAPIKey(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s:%s\n", args[0], hash)
		return nil
	},
}

// setDBPasswordCmd stores the database password in the system keyring
var setDBPasswordCmd = &cobra.Command{
	Use:   "set-db-password",
	Short: "Store the database password in the system keyring (read from stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		name := cfg.GetString("database.name", "agentgraph")
		if err := database.SetDatabasePassword(name, password); err != nil {
			return err
		}
		fmt.Printf("Password stored for database %s, set database.password_from_keyring to use it\n", name)
		return nil
	},
}

// readPassword prompts without echo on a terminal and reads one line otherwise
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(passwordBytes), nil
	}

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(password, "\r\n"), nil
}
