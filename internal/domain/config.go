package domain

// ServerConfig is the panel's snapshot of a server: the unit template,
// the resolved variables, resource limits and allocation. It is the
// authoritative template input on create and on unit-changed updates.
type ServerConfig struct {
	Settings   ConfigSettings  `json:"settings"`
	Unit       Unit            `json:"unit"`
	Allocation Allocation      `json:"allocation"`
	Resources  ConfigResources `json:"resources"`
}

type ConfigSettings struct {
	Name           string `json:"name"`
	StartupCommand string `json:"startupCommand"`
	StopCommand    string `json:"stopCommand,omitempty"`
}

type Unit struct {
	DockerImage string       `json:"dockerImage"`
	Variables   []Variable   `json:"variables"`
	Install     Install      `json:"install"`
	ConfigFiles []ConfigFile `json:"configFiles"`
	Cargo       []CargoFile  `json:"cargo"`
}

type ConfigResources struct {
	MemoryLimit int64   `json:"memoryLimit"`
	CPULimit    float64 `json:"cpuLimit"`
}

// CargoFile is an auxiliary artifact fetched into the server volume at
// install time. Only Readonly is acted on; Hidden, NoDelete and
// CustomProperties are decoded onto the value but are neither enforced
// nor persisted with the server record.
type CargoFile struct {
	URL        string          `json:"url"`
	TargetPath string          `json:"targetPath"`
	Properties CargoProperties `json:"properties"`
}

type CargoProperties struct {
	Readonly         bool           `json:"readonly"`
	Hidden           bool           `json:"hidden"`
	NoDelete         bool           `json:"noDelete"`
	CustomProperties map[string]any `json:"customProperties,omitempty"`
}

// ValidateResponse is the panel's verdict on a client session token.
type ValidateResponse struct {
	Validated bool           `json:"validated"`
	Server    ValidateServer `json:"server"`
}

type ValidateServer struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	InternalID string       `json:"internalId"`
	Node       ValidateNode `json:"node"`
}

type ValidateNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	FQDN string `json:"fqdn"`
	Port int    `json:"port"`
}
