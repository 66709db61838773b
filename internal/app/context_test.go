package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

func TestResolveConfigFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ResolveConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, defaultSchoolID, cfg.School.ID)

	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("colegio-1")), 0o644))
	cfg, err = ResolveConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "colegio-1", cfg.School.ID)
}

func TestEnsureActorStoresCanonicalRole(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	cfg := config.Default("s")
	ctx := context.Background()

	a, err := EnsureActor(ctx, r, cfg, "ana", "docente", "Ana Torres")
	require.NoError(t, err)
	assert.Equal(t, "teacher", a.Role)
	assert.Equal(t, "Ana Torres", a.DisplayName)

	role, err := ActorRole(ctx, r, cfg, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleTeacher, role)

	_, err = EnsureActor(ctx, r, cfg, "ana", "psicologo", "")
	require.NoError(t, err)
	role, err = ActorRole(ctx, r, cfg, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCounselor, role)

	_, err = EnsureActor(ctx, r, cfg, "bob", "janitor", "")
	require.Error(t, err)
	_, err = ActorRole(ctx, r, cfg, "nobody")
	require.ErrorIs(t, err, repo.ErrNotFound)
}
