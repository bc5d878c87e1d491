package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/services"
	"github.com/iota-uz/workshop/pkg/eventbus"
	"github.com/iota-uz/workshop/pkg/logging"
)

type rootOptions struct {
	dsn      string
	logLevel string
	audit    bool
}

func (o *rootOptions) logger(w io.Writer) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(o.logLevel))
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("invalid --log-level: %w", err))
	}
	return logrus.NewEntry(logging.ConsoleLogger(level, w)).WithField("cmd", "tenant-backup"), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tenant-backup",
		Short:         "Export, import and replace the data of one workshop tenant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Postgres connection string (default: DB_* environment)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&opts.audit, "audit", true, "Store an audit entry for every export and import")

	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newPlanCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// newBackupService wires a service whose events go to an audit handler.
// A nil audit repository keeps audit entries in the log only.
func newBackupService(repo backup.Repository, c *catalog.Catalog, audit backup.AuditRepository, logger *logrus.Entry) *services.BackupService {
	bus := eventbus.NewEventPublisher(logger.Logger)
	handler := services.NewAuditHandler(audit, logger)
	bus.Subscribe(handler.OnExported)
	bus.Subscribe(handler.OnImported)
	return services.NewBackupService(repo, c, bus, logger)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(code)
	}
}
