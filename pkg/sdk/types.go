package sdk

import "time"

type Server struct {
	ID             string     `json:"id"`
	ContainerID    string     `json:"containerId,omitempty"`
	Name           string     `json:"name"`
	Image          string     `json:"image"`
	State          string     `json:"state"`
	MemoryLimit    int64      `json:"memoryLimit"`
	CPULimit       float64    `json:"cpuLimit"`
	StartupCommand string     `json:"startupCommand"`
	Allocation     Allocation `json:"allocation"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Allocation struct {
	BindAddress string `json:"bindAddress"`
	Port        int    `json:"port"`
}

type CreateServerRequest struct {
	ServerID        string     `json:"serverId"`
	ValidationToken string     `json:"validationToken"`
	Name            string     `json:"name"`
	MemoryLimit     int64      `json:"memoryLimit"`
	CPULimit        float64    `json:"cpuLimit"`
	Allocation      Allocation `json:"allocation"`
}

type CreateServerResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	State           string `json:"state"`
	ValidationToken string `json:"validationToken"`
}

type UpdateServerRequest struct {
	ServerID    string  `json:"serverId"`
	Name        string  `json:"name,omitempty"`
	MemoryLimit int64   `json:"memoryLimit,omitempty"`
	CPULimit    float64 `json:"cpuLimit,omitempty"`
	UnitChanged bool    `json:"unitChanged,omitempty"`
}

type CargoFile struct {
	URL        string          `json:"url"`
	TargetPath string          `json:"targetPath"`
	Properties CargoProperties `json:"properties"`
}

type CargoProperties struct {
	Readonly bool `json:"readonly"`
	Hidden   bool `json:"hidden"`
	NoDelete bool `json:"noDelete"`
}

// ServerDetail is the GET /servers/:id shape: the record augmented,
// when a container exists, with its live status.
type ServerDetail struct {
	Server
	Status *LiveStatus `json:"status,omitempty"`
}

type LiveStatus struct {
	Status     string `json:"Status"`
	Running    bool   `json:"Running"`
	StartedAt  string `json:"StartedAt"`
	FinishedAt string `json:"FinishedAt"`
	ExitCode   int    `json:"ExitCode"`
	Error      string `json:"Error"`
}
