package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopfloor-ai/recall/core"
)

// SourceResolver resolves the owning tenant through the source of truth:
// an explicit override in the event metadata wins, otherwise the project
// row joined by the check-in's business keys names the tenant.
type SourceResolver struct {
	Source core.SourceProvider
}

func (r *SourceResolver) Resolve(ctx context.Context, ev core.Event, checkin *core.CheckinRow) (string, error) {
	if t := strings.TrimSpace(ev.Meta.TenantID); t != "" {
		return t, nil
	}
	if checkin == nil {
		return "", core.ErrTenantUnresolved
	}

	proj, err := r.Source.Project(ctx, checkin.ProjectName, checkin.PartNumber, checkin.LegacyID)
	if err != nil {
		if errors.Is(err, core.ErrEntityNotFound) {
			return "", fmt.Errorf("%w: no project row for %s/%s/%s",
				core.ErrTenantUnresolved, checkin.ProjectName, checkin.PartNumber, checkin.LegacyID)
		}
		return "", fmt.Errorf("resolving tenant: %w", err)
	}
	if strings.TrimSpace(proj.TenantID) == "" {
		return "", fmt.Errorf("%w: project row has no tenant", core.ErrTenantUnresolved)
	}
	return proj.TenantID, nil
}
