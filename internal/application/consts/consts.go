package consts

const (
	ENV_PRODUCTION  = "production"
	ENV_DEVELOPMENT = "development"
	ENV_TEST        = "test"

	DEFAULT_CONFIG_PATH = "config.yaml"

	KEY_TraceID = "trace_id"
	KEY_SpanID  = "span_id"
)

// Framework component names. Project components live in internal/consts.
const (
	COMPONENT_LOGGING     = "logging"
	COMPONENT_HTTP_SERVER = "http_server"
	COMPONENT_REDIS       = "redis"
	COMPONENT_PROMETHEUS  = "prometheus"
	COMPONENT_TELEMETRY   = "telemetry"
	COMPONENT_GORM        = "gorm"
)
