package repo_test

import (
	"testing"

	"github.com/hamed0406/apiwatch/internal/repo"
	"github.com/hamed0406/apiwatch/internal/repo/memory"
	pg "github.com/hamed0406/apiwatch/internal/repo/postgres"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	m := memory.New()
	var _ repo.EndpointStore = m
	var _ repo.HealthLogStore = m
	var _ repo.IncidentStore = m
	var _ repo.CheckpointStore = m
	var _ repo.OwnerDirectory = m

	var _ repo.EndpointStore = (*pg.Store)(nil)
	var _ repo.HealthLogStore = (*pg.Store)(nil)
	var _ repo.IncidentStore = (*pg.Store)(nil)
	var _ repo.CheckpointStore = (*pg.Store)(nil)
	var _ repo.OwnerDirectory = (*pg.Store)(nil)
}
