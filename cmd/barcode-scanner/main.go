package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/argosnet/barcodescanner/internal/api"
	"github.com/argosnet/barcodescanner/internal/barcodes"
	"github.com/argosnet/barcodescanner/internal/config"
	"github.com/argosnet/barcodescanner/internal/database"
	"github.com/argosnet/barcodescanner/internal/logging"
	"github.com/argosnet/barcodescanner/internal/session"
)

var (
	cfgFile string

	errNotLoggedIn = errors.New("not logged in, run `barcode-scanner login` first")
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "barcode-scanner",
		Short:         "Offline-first barcode scanning client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newOrdersCommand(),
		newUseOrderCommand(),
		newStagesCommand(),
		newUseStageCommand(),
		newScanCommand(),
		newListCommand(),
		newSyncCommand(),
		newSendCommand(),
		newExportCommand(),
		newDeleteCommand(),
		newPurgeSentCommand(),
		newStubServerCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("base-url", defaults.GetString("api.base_url"), "Order-tracking server base URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("export-dir", defaults.GetString("export.dir"), "Directory for JSON exports")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic sync interval")
	cmd.PersistentFlags().Int("max-attempts", defaults.GetInt("sync.max_attempts"), "Retry cap per record, 0 for unlimited")
	cmd.PersistentFlags().Int("sync-workers", defaults.GetInt("sync.workers"), "Delivery workers for sync passes")

	bindFlag(cmd, "api.base_url", "base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "export.dir", "export-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.max_attempts", "max-attempts")
	bindFlag(cmd, "sync.workers", "sync-workers")
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

// app bundles the wired components behind each subcommand.
type app struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	store    *barcodes.Store
	sessions *session.Store
	sess     *session.Session
	client   *api.Client
	service  *barcodes.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := barcodes.NewStore(db)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(session.StoreConfig{Database: db})
	if err != nil {
		return nil, err
	}

	deviceIDPath := filepath.Join(filepath.Dir(cfg.DatabasePath), "device_id")
	deviceID, err := session.EnsureDeviceID(deviceIDPath)
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(api.ClientConfig{
		BaseURL:     cfg.BaseURL,
		DeviceID:    deviceID,
		AuthTimeout: cfg.AuthTimeout,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	service, err := barcodes.NewService(barcodes.ServiceConfig{
		Store:       store,
		Remote:      client,
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts,
		Workers:     cfg.SyncWorkers,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    store,
		sessions: sessions,
		sess:     session.New(),
		client:   client,
		service:  service,
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// restoreSession re-authenticates with the saved login. When the server is
// unreachable it falls back to the persisted identity so scans still land in
// the local store.
func (a *app) restoreSession(ctx context.Context) error {
	saved, err := a.sessions.LoadLogin()
	if err != nil {
		return err
	}
	if saved == nil {
		return errNotLoggedIn
	}

	var user api.User
	var loginErr error
	switch {
	case saved.Token != "":
		user, loginErr = a.client.LoginByToken(ctx, saved.Token)
	case saved.Username != "" && saved.Password != "":
		user, loginErr = a.client.Login(ctx, saved.Username, saved.Password)
	default:
		return errNotLoggedIn
	}

	if loginErr != nil {
		var netErr *api.NetworkError
		if errors.As(loginErr, &netErr) && saved.UserID > 0 {
			a.logger.Warn("server unreachable, using saved identity", zap.Error(loginErr))
			a.sess.SetUser(api.User{ID: saved.UserID, Username: saved.Username})
			return nil
		}
		return loginErr
	}

	a.sess.SetUser(user)
	a.sess.SetCSRFToken(a.client.CSRFToken())
	return nil
}

func (a *app) restoreSelection() error {
	selection, err := a.sessions.LoadSelection()
	if err != nil {
		return err
	}
	if selection == nil {
		return nil
	}
	if selection.OrderID > 0 {
		a.sess.SetOrder(api.Order{
			ID:            selection.OrderID,
			Name:          selection.OrderName,
			ProcessTypeID: selection.ProcessTypeID,
		})
	}
	if selection.StageID > 0 {
		a.sess.SetStage(api.ProcessStage{ID: selection.StageID, Name: selection.StageName})
	}
	return nil
}

// processType returns the stage list for the selected order, served from the
// session cache when possible.
func (a *app) processType(ctx context.Context, order api.Order) (api.ProcessType, error) {
	processTypeID := order.ResolveProcessTypeID()
	if cached, ok := a.sess.CachedProcessType(processTypeID); ok {
		return cached, nil
	}
	processType, err := a.client.ProcessType(ctx, processTypeID)
	if err != nil {
		return api.ProcessType{}, err
	}
	a.sess.CacheProcessType(processType)
	return processType, nil
}

// orderDisplayName resolves an order name for list output: local cache first,
// then the server, then a plain id marker.
func (a *app) orderDisplayName(ctx context.Context, orderID int64) string {
	if name, ok := a.sessions.CachedOrderName(orderID); ok {
		return name
	}
	order, err := a.client.OrderByID(ctx, orderID)
	if err == nil && order.Name != "" {
		return order.Name
	}
	return fmt.Sprintf("ID:%d", orderID)
}
