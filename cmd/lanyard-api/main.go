package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
	"github.com/CobaltCoveLabs/lanyard/internal/authz"
	"github.com/CobaltCoveLabs/lanyard/internal/config"
	"github.com/CobaltCoveLabs/lanyard/internal/database"
	"github.com/CobaltCoveLabs/lanyard/internal/identity"
	"github.com/CobaltCoveLabs/lanyard/internal/invites"
	"github.com/CobaltCoveLabs/lanyard/internal/logging"
	"github.com/CobaltCoveLabs/lanyard/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanyard-api",
		Short: "Lanyard identity linking and invite webhook service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("provider-issuer", defaults.GetString("provider.issuer"), "Identity provider issuer URI")
	cmd.PersistentFlags().String("provider-client-id", defaults.GetString("provider.client_id"), "Registered client identifier")
	cmd.PersistentFlags().String("default-role", defaults.GetString("provider.default_role"), "Role assigned when an invite names no other")
	cmd.PersistentFlags().Bool("link-existing", defaults.GetBool("provider.link_existing"), "Link inbound subjects to existing accounts by contact address")
	cmd.PersistentFlags().Bool("create-accounts", defaults.GetBool("provider.create_accounts"), "Create accounts for unknown subjects")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "provider.issuer", "provider-issuer")
	bindFlag(cmd, "provider.client_id", "provider-client-id")
	bindFlag(cmd, "provider.default_role", "default-role")
	bindFlag(cmd, "provider.link_existing", "link-existing")
	bindFlag(cmd, "provider.create_accounts", "create-accounts")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := accounts.NewStore(accounts.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: accounts.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	registry, err := authz.NewRegistry(authz.RegistryConfig{
		DefaultRole: appConfig.DefaultRole,
	})
	if err != nil {
		return err
	}

	directory, err := identity.NewDirectory(store, logger)
	if err != nil {
		return err
	}

	provisioner, err := identity.NewProvisioner(identity.ProvisionerConfig{
		Store:     store,
		Directory: directory,
		Policy: identity.Policy{
			LinkExistingAccounts: appConfig.LinkExisting,
			CreateIfNotExists:    appConfig.CreateAccounts,
		},
		Hooks:  identity.NewHooks(),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	merger, err := identity.NewMerger(store, logger)
	if err != nil {
		return err
	}

	pipeline, err := invites.NewPipeline(invites.PipelineConfig{
		Config: invites.Config{
			Issuer:   appConfig.ProviderIssuer,
			ClientID: appConfig.ClientID,
		},
		Directory:   directory,
		Provisioner: provisioner,
		Merger:      merger,
		Store:       store,
		Authorizer:  registry,
		Roles:       registry,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Pipeline: pipeline,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
