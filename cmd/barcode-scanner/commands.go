package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/argosnet/barcodescanner/internal/api"
	"github.com/argosnet/barcodescanner/internal/barcodes"
	"github.com/argosnet/barcodescanner/internal/session"
	"github.com/argosnet/barcodescanner/internal/stubserver"
)

func newLoginCommand() *cobra.Command {
	var username, password, token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with username/password or a login token",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			var user api.User
			switch {
			case token != "":
				user, err = application.client.LoginByToken(ctx, token)
			case username != "" && password != "":
				user, err = application.client.Login(ctx, username, password)
			default:
				return fmt.Errorf("provide --username and --password, or --token")
			}
			if err != nil {
				return err
			}

			if err := application.sessions.SaveLogin(session.SavedLogin{
				UserID:   user.ID,
				Username: user.Username,
				Password: password,
				Token:    token,
			}); err != nil {
				return err
			}

			fmt.Printf("Logged in as %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Pre-issued login token")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login and selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.sessions.ClearLogin(); err != nil {
				return err
			}
			application.sess.Clear()
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newOrdersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List orders available for scanning",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}

			orders, err := application.client.Orders(ctx)
			if err != nil {
				return err
			}
			if err := application.sessions.CacheOrders(orders); err != nil {
				application.logger.Warn("order cache refresh failed", zap.Error(err))
			}

			for _, order := range orders {
				fmt.Printf("%6d  %s\n", order.ID, order.Name)
			}
			return nil
		},
	}
}

func newUseOrderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-order <id>",
		Short: "Select the order for subsequent scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}

			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}

			order, err := application.client.OrderByID(ctx, orderID)
			if err != nil {
				return err
			}

			application.sess.SetOrder(order)
			if err := application.sessions.SaveSelection(session.Selection{
				OrderID:       order.ID,
				OrderName:     order.Name,
				ProcessTypeID: order.ResolveProcessTypeID(),
			}); err != nil {
				return err
			}

			fmt.Printf("Selected order %s, now pick a stage with `use-stage`\n", order.Name)
			return nil
		},
	}
}

func newStagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stages of the selected order's process",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			if err := application.restoreSelection(); err != nil {
				return err
			}

			order := application.sess.Order()
			if order == nil {
				return fmt.Errorf("select an order first")
			}

			processType, err := application.processType(ctx, *order)
			if err != nil {
				return err
			}
			if len(processType.Stages) == 0 {
				fmt.Printf("No stages defined for order %s\n", order.Name)
				return nil
			}

			stages := append([]api.ProcessStage(nil), processType.Stages...)
			sort.Slice(stages, func(i, j int) bool { return stages[i].SortNumber < stages[j].SortNumber })
			for _, stage := range stages {
				fmt.Printf("%6d  %s\n", stage.ID, stage.Name)
			}
			return nil
		},
	}
}

func newUseStageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-stage <id>",
		Short: "Select the process stage for subsequent scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid stage id %q", args[0])
			}

			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			if err := application.restoreSelection(); err != nil {
				return err
			}

			order := application.sess.Order()
			if order == nil {
				return fmt.Errorf("select an order first")
			}

			processType, err := application.processType(ctx, *order)
			if err != nil {
				return err
			}

			for _, stage := range processType.Stages {
				if stage.ID == stageID {
					application.sess.SetStage(stage)
					if err := application.sessions.SaveSelection(session.Selection{
						OrderID:       order.ID,
						OrderName:     order.Name,
						ProcessTypeID: processType.ID,
						StageID:       stage.ID,
						StageName:     stage.Name,
					}); err != nil {
						return err
					}
					fmt.Printf("Selected stage %s for order %s\n", stage.Name, order.Name)
					return nil
				}
			}
			return fmt.Errorf("stage %d does not belong to process %s", stageID, processType.Name)
		},
	}
}

func newScanCommand() *cobra.Command {
	var defect bool

	cmd := &cobra.Command{
		Use:   "scan <code> [code...]",
		Short: "Record scanned barcodes and forward them to the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}
			if err := application.restoreSelection(); err != nil {
				return err
			}

			user := application.sess.User()
			order := application.sess.Order()
			stage := application.sess.Stage()
			if user == nil {
				return errNotLoggedIn
			}
			if order == nil {
				return fmt.Errorf("select an order first")
			}
			if stage == nil {
				return fmt.Errorf("select a stage first")
			}

			for _, rawCode := range args {
				code, err := barcodes.NewCode(rawCode)
				if err != nil {
					fmt.Printf("%s: rejected (%v)\n", rawCode, err)
					continue
				}

				result, err := application.service.SaveAndSend(ctx, barcodes.ScanRequest{
					Code:    code,
					OrderID: order.ID,
					StageID: stage.ID,
					UserID:  user.ID,
					IsGood:  !defect,
				})
				if err != nil {
					return err
				}

				switch {
				case result.Success:
					fmt.Printf("%s: sent\n", code)
				case result.Reason == barcodes.ReasonDuplicate:
					fmt.Printf("%s: already scanned for this order and stage\n", code)
				default:
					fmt.Printf("%s: saved locally (id %d), send failed, will retry on sync\n", code, result.RecordID)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&defect, "defect", false, "Mark the scanned items as defective")
	return cmd
}

func newListCommand() *cobra.Command {
	var unsentOnly bool
	var orderID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show locally stored scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()
			ctx := cmd.Context()

			filter := barcodes.ListFilter{OrderBy: "-created_at"}
			if unsentOnly {
				unsent := false
				filter.IsSent = &unsent
			}
			if orderID > 0 {
				filter.OrderID = &orderID
			}

			records, err := application.store.List(ctx, filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No scans stored")
				return nil
			}

			names := map[int64]string{}
			for _, record := range records {
				if _, ok := names[record.OrderID]; !ok {
					names[record.OrderID] = application.orderDisplayName(ctx, record.OrderID)
				}
				status := "unsent"
				if record.IsSent {
					status = "sent"
				}
				fmt.Printf("%6d  %-20s  %-12s  %s  %s  errors=%d\n",
					record.ID, record.Code, names[record.OrderID],
					record.CreatedAt.Format("2006-01-02 15:04:05"), status, record.ErrorCount)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&unsentOnly, "unsent", false, "Show only unsent scans")
	cmd.Flags().Int64Var(&orderID, "order", 0, "Filter by order id")
	return cmd
}

func newSyncCommand() *cobra.Command {
	var bulk, watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver all unsent scans to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}

			if watch {
				return runWatch(ctx, application)
			}

			if bulk {
				summary, err := application.service.SyncAllBulk(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Synced: %d\nFailed: %d\n", summary.Synced, summary.Failed)
				return nil
			}

			progressCh, doneCh := application.service.SyncAllAsync(ctx)
			for progress := range progressCh {
				if progress.Sent {
					fmt.Printf("[%d/%d] record %d sent\n", progress.Done, progress.Total, progress.RecordID)
				} else {
					fmt.Printf("[%d/%d] record %d failed: %s\n", progress.Done, progress.Total, progress.RecordID, progress.Message)
				}
			}
			done := <-doneCh
			if done.Err != nil {
				if errors.Is(done.Err, barcodes.ErrSyncInProgress) {
					return fmt.Errorf("a sync pass is already running")
				}
				return done.Err
			}
			fmt.Printf("Synced: %d\nFailed: %d\n", done.Summary.Synced, done.Summary.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&bulk, "bulk", false, "Send everything in one bulk request")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and sync periodically")
	return cmd
}

func runWatch(ctx context.Context, application *app) error {
	if err := application.service.StartAutoSync(application.cfg.SyncInterval); err != nil {
		return err
	}
	defer application.service.StopAutoSync()

	fmt.Printf("Auto sync every %s, Ctrl-C to stop\n", application.cfg.SyncInterval)
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()
	return nil
}

func newSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id>",
		Short: "Re-attempt delivery of one stored scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}

			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			ctx := cmd.Context()
			if err := application.restoreSession(ctx); err != nil {
				return err
			}

			sent, err := application.service.SendOne(ctx, recordID)
			if err != nil {
				if errors.Is(err, barcodes.ErrRecordNotFound) {
					return fmt.Errorf("record %d not found", recordID)
				}
				return err
			}
			if !sent {
				fmt.Printf("Record %d still unsent, will retry on the next sync\n", recordID)
				return nil
			}
			fmt.Printf("Record %d sent\n", recordID)
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump unsent scans to a timestamped JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			result, err := application.service.ExportUnsynced(cmd.Context(), application.cfg.ExportDir)
			if err != nil {
				return err
			}
			if result.Count == 0 {
				fmt.Println("Nothing to export")
				return nil
			}
			fmt.Printf("Exported %d records to %s\n", result.Count, result.Path)
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one stored scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}

			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			found, err := application.store.Delete(cmd.Context(), recordID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("record %d not found", recordID)
			}
			fmt.Printf("Deleted record %d\n", recordID)
			return nil
		},
	}
}

func newPurgeSentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sent",
		Short: "Delete every scan that has been delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			count, err := application.store.DeleteSent(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d sent records\n", count)
			return nil
		},
	}
}

func newStubServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stub-server",
		Short: "Run a local stub of the vendor API for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.close()

			secret := []byte(application.cfg.StubSigningSecret)
			if len(secret) == 0 {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				secret = []byte(hex.EncodeToString(buf))
				application.logger.Warn("stub.signing_secret not set, using a random per-run secret")
			}

			stub, err := stubserver.NewServer(stubserver.Dependencies{
				SigningSecret: secret,
				Logger:        application.logger,
			})
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:    application.cfg.StubAddress,
				Handler: stub.Handler(),
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				application.logger.Info("stub server starting", zap.String("address", application.cfg.StubAddress))
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
		},
	}
}
