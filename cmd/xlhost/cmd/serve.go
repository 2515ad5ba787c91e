package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psantana5/excel-host/internal/config"
	"github.com/psantana5/excel-host/internal/guardian"
	"github.com/psantana5/excel-host/internal/logging"
	"github.com/psantana5/excel-host/internal/session"
	"github.com/psantana5/excel-host/pkg/api"
	"github.com/psantana5/excel-host/pkg/binding"
	"github.com/psantana5/excel-host/pkg/shutdown"
)

var (
	serveVisible bool
	serveAttach  bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: host session, guardian and control API",
	Long: `Start the automation session against the spreadsheet host and serve the
JSON control API plus Prometheus metrics until interrupted. On shutdown the
session is stopped gracefully and any host instance this process launched is
terminated.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveVisible, "visible", false, "show the host window")
	serveCmd.Flags().BoolVar(&serveAttach, "attach", true, "attach to a running host instance if one exists")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("visible") {
		cfg.Visible = serveVisible
	}
	if cmd.Flags().Changed("attach") {
		cfg.AttachToExisting = serveAttach
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	b, err := binding.New()
	if err != nil {
		return fmt.Errorf("platform binding unavailable: %w", err)
	}

	guard := guardian.New(cfg.HostProcessName, log.Named("guardian"))
	guard.SetExitWait(cfg.TerminateWait)

	sess := session.New(b, session.Options{
		Visible:          cfg.Visible,
		SuppressAlerts:   cfg.SuppressAlerts,
		AttachToExisting: cfg.AttachToExisting,
		Tracker:          guard,
		Logger:           log.Named("session"),
	})
	guard.RegisterSession(sess)

	if err := sess.Start(); err != nil {
		// The session could not come up, but fresh processes may already
		// have been tracked; sweep before giving up.
		guard.ForceCleanupAll()
		return fmt.Errorf("failed to start host session: %w", err)
	}

	handler := api.NewHandler(sess, guard, log.Named("api"))
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	mgr := shutdown.New(30*time.Second, log.Named("shutdown"))
	// LIFO: the server stops taking requests first, the guardian runs last.
	mgr.Register(func(ctx context.Context) error {
		guard.ForceCleanupAll()
		return nil
	})
	mgr.Register(func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("control API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go mgr.Wait()
	select {
	case <-mgr.Done():
	case err := <-errCh:
		log.Error("control API failed", zap.Error(err))
		mgr.Shutdown()
		return err
	}

	mgr.Shutdown()
	return nil
}
