package photolib

import (
	"context"
	"fmt"
)

// authGate mediates the two-tier platform grant. Mutating operations check
// the grant before touching the store, so a denial surfaces at the call
// boundary instead of as a store rejection mid-operation.
type authGate struct {
	provider Provider
}

// Status reports the current grant. Read-only, no consent flow.
func (g *authGate) Status(ctx context.Context) AuthStatus {
	return g.provider.AuthorizationStatus(ctx)
}

// Request runs the platform consent flow for level and returns the final
// grant. The decision is the platform's; the gate never retries. Callers
// get ErrAccessDenied when the grant is refused and ErrAccessRestricted
// when policy forbids prompting at all.
func (g *authGate) Request(ctx context.Context, level AccessLevel) (AuthStatus, error) {
	status, err := g.provider.RequestAuthorization(ctx, level)
	if err != nil {
		return status, fmt.Errorf("failed to request %s access: %w", level, err)
	}
	return status, nil
}

func (g *authGate) requireRead(ctx context.Context) error {
	if !g.Status(ctx).ReadGranted {
		return fmt.Errorf("read access not granted: %w", ErrAccessDenied)
	}
	return nil
}

func (g *authGate) requireWrite(ctx context.Context) error {
	if !g.Status(ctx).WriteGranted {
		return fmt.Errorf("write access not granted: %w", ErrAccessDenied)
	}
	return nil
}
