package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/repo"
)

const defaultSchoolID = "default-school"

// ResolveConfig loads caseline.yml from the workspace, falling back to the
// built-in defaults when the file does not exist.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(defaultSchoolID)
	}
	return cfg, nil
}

// EnsureActor registers actorID under roleName, which may be a deployment
// alias such as "docente". The stored role is always canonical.
func EnsureActor(ctx context.Context, r repo.Repo, cfg *config.Config, actorID, roleName, displayName string) (domain.Actor, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Actor{}, errors.New("actor id required")
	}
	role, err := cfg.ResolveRole(roleName)
	if err != nil {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:          actorID,
		DisplayName: strings.TrimSpace(displayName),
		Role:        string(role),
		CreatedAt:   repo.FormatTime(time.Now()),
	}
	if err := r.UpsertActor(ctx, nil, a); err != nil {
		return domain.Actor{}, fmt.Errorf("upsert actor: %w", err)
	}
	return r.GetActor(ctx, actorID)
}

// ActorRole returns the canonical role of a registered actor.
func ActorRole(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string) (domain.Role, error) {
	a, err := r.GetActor(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("actor %s: %w", actorID, err)
	}
	return cfg.ResolveRole(a.Role)
}
