package domain

import "time"

type ServerState string

const (
	StateCreating      ServerState = "creating"
	StateInstalling    ServerState = "installing"
	StateInstallFailed ServerState = "install_failed"
	StateInstalled     ServerState = "installed"
	StateStarting      ServerState = "starting"
	StateRunning       ServerState = "running"
	StateUpdating      ServerState = "updating"
	StateUpdateFailed  ServerState = "update_failed"
	StateStopping      ServerState = "stopping"
	StateStopped       ServerState = "stopped"
	StateErrored       ServerState = "errored"
	StateDeleting      ServerState = "deleting"
)

type Server struct {
	ID             string       `json:"id"`
	ContainerID    string       `json:"containerId,omitempty"`
	Name           string       `json:"name"`
	Image          string       `json:"image"`
	State          ServerState  `json:"state"`
	MemoryLimit    int64        `json:"memoryLimit"`
	CPULimit       float64      `json:"cpuLimit"`
	Variables      []Variable   `json:"variables"`
	StartupCommand string       `json:"startupCommand"`
	Install        Install      `json:"install"`
	Allocation     Allocation   `json:"allocation"`
	ConfigFiles    []ConfigFile `json:"configFiles,omitempty"`
	SFTPEnabled    bool         `json:"sftpEnabled"`
	CreatedAt      time.Time    `json:"created_at"`
}

type Variable struct {
	Name         string  `json:"name"`
	DefaultValue string  `json:"defaultValue"`
	CurrentValue *string `json:"currentValue,omitempty"`
	Rules        string  `json:"rules"`
}

// Value is the effective variable value: the panel's current value
// when set, the unit default otherwise.
func (v Variable) Value() string {
	if v.CurrentValue != nil {
		return *v.CurrentValue
	}
	return v.DefaultValue
}

type Install struct {
	Image      string `json:"image"`
	Entrypoint string `json:"entrypoint"`
	Script     string `json:"script"`
}

type Allocation struct {
	BindAddress string `json:"bindAddress"`
	Port        int    `json:"port"`
}

type ConfigFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
