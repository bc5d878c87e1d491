package backup

import (
	"github.com/sirupsen/logrus"

	backupdomain "github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/persistence"
	"github.com/iota-uz/workshop/modules/backup/presentation/controllers"
	"github.com/iota-uz/workshop/modules/backup/services"
	"github.com/iota-uz/workshop/pkg/application"
	"github.com/iota-uz/workshop/pkg/configuration"
)

type ModuleOptions struct {
	// Catalog defaults to the workshop catalog.
	Catalog *catalog.Catalog
	Backup  configuration.BackupOptions
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	c := m.options.Catalog
	if c == nil {
		c = catalog.Workshop()
	}
	if err := c.Validate(); err != nil {
		return err
	}

	logger := logrus.NewEntry(app.Logger()).WithField("module", m.Name())
	backupService := services.NewBackupService(persistence.NewPgRepository(c), c, app.EventPublisher(), logger)
	app.RegisterServices(backupService)

	var auditRepo backupdomain.AuditRepository
	if m.options.Backup.AuditEnabled {
		auditRepo = persistence.NewPgAuditRepository()
	}
	auditHandler := services.NewAuditHandler(auditRepo, logger)
	app.EventPublisher().Subscribe(auditHandler.OnExported)
	app.EventPublisher().Subscribe(auditHandler.OnImported)

	app.RegisterControllers(
		controllers.NewBackupAPIController(app, controllers.BackupAPIControllerOptions{
			MaxUploadSize: m.options.Backup.MaxUploadSize,
			Compress:      m.options.Backup.Compress,
			DefaultMode:   backupdomain.Mode(m.options.Backup.DefaultMode),
			ImportTimeout: m.options.Backup.ImportTimeout,
			Catalog:       c,
		}),
	)
	return nil
}

func (m *Module) Name() string {
	return "backup"
}
