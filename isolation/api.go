package isolation

// Control API served by the agent inside the boundary.
const (
	PathStatus     = "/api/v1/app.status"
	PathRecyclable = "/api/v1/app.recyclable"
	PathConfig     = "/api/v1/app.config"
	PathShutdown   = "/api/v1/app.shutdown"
)

// Environment handed to a hosted process.
const (
	EnvSocket     = "APPSLOT_SOCKET"
	EnvAppName    = "APPSLOT_APP_NAME"
	EnvWorkingDir = "APPSLOT_WORKING_DIR"
	EnvConfigFile = "APPSLOT_CONFIG_FILE"
)

// RecyclableResponse is the body of PathRecyclable.
type RecyclableResponse struct {
	Recyclable bool `json:"recyclable"`
}
