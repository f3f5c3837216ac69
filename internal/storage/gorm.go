package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"krypton/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Server is the persisted row. Structured fields (variables, install
// block, allocation, config files) are stored as JSON text columns.
type Server struct {
	ID             string `gorm:"primaryKey"`
	DockerID       string `gorm:"column:docker_id"`
	Name           string
	Image          string
	State          string
	MemoryLimit    int64
	CPULimit       float64 `gorm:"column:cpu_limit"`
	Variables      string
	StartupCommand string
	InstallScript  string
	Allocation     string
	ConfigFiles    string
	SFTPEnabled    bool `gorm:"column:sftp_enabled"`
	CreatedAt      time.Time
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	newLogger := gormlogger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		gormlogger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormlogger.Error,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Server{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &GormStore{db: db}, nil
}

func toRow(srv *domain.Server) (*Server, error) {
	variables, err := json.Marshal(srv.Variables)
	if err != nil {
		return nil, fmt.Errorf("error encoding variables: %w", err)
	}
	install, err := json.Marshal(srv.Install)
	if err != nil {
		return nil, fmt.Errorf("error encoding install block: %w", err)
	}
	allocation, err := json.Marshal(srv.Allocation)
	if err != nil {
		return nil, fmt.Errorf("error encoding allocation: %w", err)
	}
	configFiles, err := json.Marshal(srv.ConfigFiles)
	if err != nil {
		return nil, fmt.Errorf("error encoding config files: %w", err)
	}

	return &Server{
		ID:             srv.ID,
		DockerID:       srv.ContainerID,
		Name:           srv.Name,
		Image:          srv.Image,
		State:          string(srv.State),
		MemoryLimit:    srv.MemoryLimit,
		CPULimit:       srv.CPULimit,
		Variables:      string(variables),
		StartupCommand: srv.StartupCommand,
		InstallScript:  string(install),
		Allocation:     string(allocation),
		ConfigFiles:    string(configFiles),
		SFTPEnabled:    srv.SFTPEnabled,
		CreatedAt:      srv.CreatedAt,
	}, nil
}

func fromRow(row *Server) (*domain.Server, error) {
	srv := &domain.Server{
		ID:             row.ID,
		ContainerID:    row.DockerID,
		Name:           row.Name,
		Image:          row.Image,
		State:          domain.ServerState(row.State),
		MemoryLimit:    row.MemoryLimit,
		CPULimit:       row.CPULimit,
		StartupCommand: row.StartupCommand,
		SFTPEnabled:    row.SFTPEnabled,
		CreatedAt:      row.CreatedAt,
	}

	if row.Variables != "" {
		if err := json.Unmarshal([]byte(row.Variables), &srv.Variables); err != nil {
			return nil, fmt.Errorf("error decoding variables for %s: %w", row.ID, err)
		}
	}
	if row.InstallScript != "" {
		if err := json.Unmarshal([]byte(row.InstallScript), &srv.Install); err != nil {
			return nil, fmt.Errorf("error decoding install block for %s: %w", row.ID, err)
		}
	}
	if row.Allocation != "" {
		if err := json.Unmarshal([]byte(row.Allocation), &srv.Allocation); err != nil {
			return nil, fmt.Errorf("error decoding allocation for %s: %w", row.ID, err)
		}
	}
	if row.ConfigFiles != "" {
		if err := json.Unmarshal([]byte(row.ConfigFiles), &srv.ConfigFiles); err != nil {
			return nil, fmt.Errorf("error decoding config files for %s: %w", row.ID, err)
		}
	}

	return srv, nil
}

func (s *GormStore) SaveServer(srv *domain.Server) error {
	row, err := toRow(srv)
	if err != nil {
		return err
	}
	return s.db.Save(row).Error
}

func (s *GormStore) GetServerByID(id string) (*domain.Server, error) {
	var row Server
	result := s.db.First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("error querying server: %w", result.Error)
	}
	return fromRow(&row)
}

func (s *GormStore) ListServers() ([]domain.Server, error) {
	var rows []Server
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	var servers []domain.Server
	for i := range rows {
		srv, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, nil
}

func (s *GormStore) DeleteServer(id string) error {
	return s.db.Delete(&Server{}, "id = ?", id).Error
}

func (s *GormStore) UpdateState(id string, state domain.ServerState) error {
	return s.db.Model(&Server{}).Where("id = ?", id).
		Update("state", string(state)).Error
}

func (s *GormStore) UpdateContainer(id string, containerID string, state domain.ServerState) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Updates(map[string]interface{}{
		"docker_id": containerID,
		"state":     string(state),
	}).Error
}

func (s *GormStore) ApplyUpdate(id string, containerID string, state domain.ServerState, name string, image string, memoryLimit int64, cpuLimit float64) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Updates(map[string]interface{}{
		"docker_id":    containerID,
		"state":        string(state),
		"name":         name,
		"image":        image,
		"memory_limit": memoryLimit,
		"cpu_limit":    cpuLimit,
	}).Error
}
