package services

import (
	"github.com/nicolu0/nexus-relay/pkg/pg"
)

// HealthService answers liveness checks. With a database handle it also
// verifies connectivity; without one it only reports process liveness.
type HealthService struct {
	db *pg.DB
}

func NewHealthService() *HealthService {
	return &HealthService{}
}

func NewHealthServiceWithDB(db *pg.DB) *HealthService {
	return &HealthService{db: db}
}

func (s *HealthService) Get() error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping()
}
