package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/workshop/modules/backup/domain/backup"
	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/xlsx"
	"github.com/iota-uz/workshop/modules/backup/services"
	"github.com/iota-uz/workshop/pkg/application"
	"github.com/iota-uz/workshop/pkg/composables"
	"github.com/iota-uz/workshop/pkg/httpapi"
)

type BackupAPIControllerOptions struct {
	// MaxUploadSize caps the snapshot body accepted by the import endpoint, in bytes.
	MaxUploadSize int64
	// Compress is the export default when the request has no gzip parameter.
	Compress bool
	// DefaultMode applies when an import request names neither replace nor mode.
	DefaultMode backup.Mode
	// ImportTimeout bounds one import request. Zero means no limit.
	ImportTimeout time.Duration
	// Catalog lays out spreadsheet exports. Defaults to the workshop catalog.
	Catalog *catalog.Catalog
}

type BackupAPIController struct {
	backups   *services.BackupService
	opts      BackupAPIControllerOptions
	apiPrefix string
}

func NewBackupAPIController(app application.Application, opts BackupAPIControllerOptions) application.Controller {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 256 << 20
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = backup.ModeMerge
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Workshop()
	}
	return &BackupAPIController{
		backups:   app.Service(services.BackupService{}).(*services.BackupService),
		opts:      opts,
		apiPrefix: "/backups",
	}
}

func (c *BackupAPIController) Key() string {
	return c.apiPrefix
}

func (c *BackupAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()
	api.HandleFunc("/plan", c.Plan).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantID}/export", c.Export).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantID}/import", c.Import).Methods(http.MethodPost)
}

// Export streams the tenant snapshot as a download. ?format=xlsx returns a
// spreadsheet rendering instead, which cannot be imported back.
func (c *BackupAPIController) Export(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r)
	if !ok {
		return
	}
	switch format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))); format {
	case "", "json":
	case "xlsx":
		c.exportWorkbook(w, r, tenantID)
		return
	default:
		writeAPIError(w, r, http.StatusBadRequest, "BACKUP_INVALID_QUERY", fmt.Sprintf("unsupported format %q (expected json|xlsx)", format))
		return
	}
	compress := c.opts.Compress
	if raw := strings.TrimSpace(r.URL.Query().Get("gzip")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "BACKUP_INVALID_QUERY", "gzip must be a boolean")
			return
		}
		compress = v
	}

	data, err := c.backups.ExportBytes(r.Context(), tenantID, compress)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("tenant-%d-%s.json", tenantID, time.Now().UTC().Format("20060102T150405Z"))
	contentType := "application/json"
	if compress {
		filename += ".gz"
		contentType = "application/gzip"
	}
	writeAttachment(w, contentType, filename, data)
}

func (c *BackupAPIController) exportWorkbook(w http.ResponseWriter, r *http.Request, tenantID int64) {
	doc, err := c.backups.Export(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	data, err := xlsx.Workbook(doc, c.opts.Catalog)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filename := fmt.Sprintf("tenant-%d-%s.xlsx", tenantID, time.Now().UTC().Format("20060102T150405Z"))
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename, data)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Import accepts the snapshot either as the raw request body or as the
// "file" part of a multipart form. Gzip is detected from the content itself.
func (c *BackupAPIController) Import(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r)
	if !ok {
		return
	}
	replace, err := replaceFromQuery(r, c.opts.DefaultMode)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BACKUP_INVALID_QUERY", err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, c.opts.MaxUploadSize)
	data, err := readSnapshot(r, c.opts.MaxUploadSize)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, r, http.StatusRequestEntityTooLarge, "BACKUP_PAYLOAD_TOO_LARGE",
				fmt.Sprintf("snapshot exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeAPIError(w, r, http.StatusBadRequest, "BACKUP_INVALID_BODY", err.Error())
		return
	}

	ctx := r.Context()
	if c.opts.ImportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ImportTimeout)
		defer cancel()
	}
	summary, err := c.backups.ImportBytes(ctx, tenantID, data, services.ImportOptions{Replace: replace})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, summary)
}

func (c *BackupAPIController) Plan(w http.ResponseWriter, r *http.Request) {
	_ = httpapi.WriteJSON(w, http.StatusOK, c.backups.PlanReplace())
}

func tenantIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["tenantID"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, r, http.StatusBadRequest, "BACKUP_INVALID_TENANT", "tenant id must be a positive integer")
		return 0, false
	}
	return id, true
}

// replaceFromQuery reads ?replace=true|false, or ?mode=merge|replace.
func replaceFromQuery(r *http.Request, fallback backup.Mode) (bool, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("replace")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false, errors.New("replace must be a boolean")
		}
		return v, nil
	}
	raw := strings.TrimSpace(q.Get("mode"))
	if raw == "" {
		return fallback == backup.ModeReplace, nil
	}
	mode, err := backup.ParseMode(raw)
	if err != nil {
		return false, err
	}
	return mode == backup.ModeReplace, nil
}

func readSnapshot(r *http.Request, maxSize int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file part: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, snapshot.ErrFormat), errors.Is(err, backup.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrVersionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backup.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrDeletionFailed):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestMeta(r *http.Request) map[string]string {
	params, ok := composables.UseParams(r.Context())
	if !ok || params == nil || params.RequestID == "" {
		return nil
	}
	return map[string]string{"request_id": params.RequestID}
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteError(w, status, code, message, requestMeta(r))
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	_ = httpapi.WriteServiceError(w, statusFor(err), "BACKUP_INTERNAL", err, requestMeta(r))
}
