package constants

type contextKey string

const (
	TxKey       contextKey = "tx"
	PoolKey     contextKey = "pool"
	TenantIDKey contextKey = "tenantID"
	LoggerKey   contextKey = "logger"
	ParamsKey   contextKey = "params"
	RunIDKey    contextKey = "runID"
)
