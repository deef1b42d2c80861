package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/auth"
	"github.com/MarcoPoloResearchLab/geoboard/internal/board"
	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/config"
	"github.com/MarcoPoloResearchLab/geoboard/internal/database"
	"github.com/MarcoPoloResearchLab/geoboard/internal/logging"
	"github.com/MarcoPoloResearchLab/geoboard/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sessionIssuer = "geoboard-api"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geoboard-api",
		Short: "Geolocated message board backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newRenderCommand())

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
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("catalog-file", defaults.GetString("catalog.file"), "Message catalog YAML file (built-in catalog when empty)")
	cmd.PersistentFlags().Int("catalog-step", defaults.GetInt("catalog.step"), "Filler index slots per category")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "catalog.file", "catalog-file")
	bindFlag(cmd, "catalog.step", "catalog-step")
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

func newRenderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render <value>",
		Short: "Print the text of a packed message value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("parse value %q: %w", args[0], err)
			}
			parts, err := config.LoadCatalog(viper.GetString("catalog.file"), viper.GetInt("catalog.step"))
			if err != nil {
				return err
			}
			messageCodec, err := codec.New(parts)
			if err != nil {
				return err
			}
			decoded, err := messageCodec.Decode(codec.Value(raw))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%+v\n", messageCodec.Render(codec.Value(raw)), decoded)
			return nil
		},
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	parts, err := config.LoadCatalog(appConfig.CatalogFile, appConfig.CatalogStep)
	if err != nil {
		return err
	}
	messageCodec, err := codec.New(parts)
	if err != nil {
		return err
	}

	handles, err := database.OpenSQLite(database.Config{
		Path:         appConfig.DatabasePath,
		ReadPoolSize: appConfig.DatabaseReadPoolSize,
		BusyTimeout:  appConfig.DatabaseBusyTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer handles.Close() //nolint:errcheck

	store, err := board.NewStore(board.StoreConfig{
		Writer:       handles.Writer,
		Reader:       handles.Reader,
		Clock:        time.Now,
		Logger:       logger,
		DefaultLimit: appConfig.QueryDefaultLimit,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    appConfig.SessionCookieName,
		TTL:           appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:          store,
		Codec:          messageCodec,
		Sessions:       sessions,
		Logger:         logger,
		AllowedOrigins: appConfig.CORSAllowedOrigins,
		SecureCookie:   appConfig.SessionSecureCookie,
		MaxLevel:       appConfig.LocationMaxLevel,
		DefaultLimit:   appConfig.QueryDefaultLimit,
		RateLimit:      rate.Limit(appConfig.RateLimitRPS),
		RateBurst:      appConfig.RateLimitBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database", appConfig.DatabasePath),
			zap.Int("templates", parts.TemplateCount()))
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
