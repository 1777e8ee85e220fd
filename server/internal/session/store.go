package session

import (
	"context"

	"clear-talk/server/internal/model"
)

type Store interface {
	Get(ctx context.Context, id string) (*model.SessionState, error)
	Save(ctx context.Context, s *model.SessionState) error
	Delete(ctx context.Context, id string) error
}
