package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (T100-T199)
	"T100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file passed with --config does not exist.",
		Suggestion: "Check the path, or omit --config to run with defaults.",
	},
	"T101": {
		Category: CategoryConfig,
		Message:  "Config file could not be parsed",
		Detail:   "The configuration file is not valid JSON or TOML.",
	},
	"T102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "One or more configuration values break a startup invariant.",
	},
	"T103": {
		Category:   CategoryConfig,
		Message:    "Unsupported config format",
		Detail:     "Configuration files must end in .json or .toml.",
		Suggestion: "Rename the file or pass an explicit format.",
	},
	"T104": {
		Category:   CategoryConfig,
		Message:    "Config object could not be fetched",
		Detail:     "Reading the configuration from S3 failed.",
		Suggestion: "Check the s3://bucket/key location and the AWS credentials in the environment.",
	},
	"T105": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Detail:     `Durations are strings such as "500ms", "30s" or "2m".`,
		Suggestion: `Quote the value and include a unit, e.g. "30s".`,
	},

	// Command line (T200-T299)
	"T200": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
	"T201": {
		Category: CategoryCLI,
		Message:  "Server stopped with an error",
	},

	// Protocol (T300-T399)
	"T300": {
		Category:   CategoryProtocol,
		Message:    "Connection failed",
		Detail:     "The client could not reach the server before giving up.",
		Suggestion: "Check that the server is running and that the URL uses ws:// or wss://.",
	},

	// Storage (T400-T499)
	"T400": {
		Category:   CategoryStorage,
		Message:    "Database unavailable",
		Detail:     "The username store could not connect to PostgreSQL.",
		Suggestion: "Check database_url, or leave it empty to use the in-memory store.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
