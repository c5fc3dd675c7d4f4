package ports

import (
	"context"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/domain"
)

type Sink interface {
	Write(ctx context.Context, snap *domain.Snapshot) error
	Name() string
}
