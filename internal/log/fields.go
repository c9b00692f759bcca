package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldOwnerID   = "owner_id"
	FieldExpenseID = "expense_id"
	FieldReportID  = "report_id"
	FieldCategory  = "category"
	FieldMonth     = "month"
	FieldAmount    = "amount"
)

// Components
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentAlerts    = "alerts"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "report-worker"
	ComponentSheets    = "sheets"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
)

// Operations
const (
	OpCreate   = "create"
	OpDelete   = "delete"
	OpList     = "list"
	OpUpsert   = "upsert"
	OpGenerate = "generate"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
