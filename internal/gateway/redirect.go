package gateway

import (
	"context"
	"fmt"
	"net/url"
)

// NewRedirectValidator returns a fetcher redirect check that applies the
// scheme allow-list and the guard to every redirect target. The host is
// normalized the same way as the initial request.
func NewRedirectValidator(guard Guard, schemes []string) func(context.Context, *url.URL) error {
	allowed := newSchemeSet(schemes)
	return func(ctx context.Context, target *url.URL) error {
		if !allowed.allows(target.Scheme) {
			return fmt.Errorf("%w: %s", ErrRedirectProtocol, target.Scheme)
		}
		normalized, err := normalizeURL(target.String())
		if err != nil {
			return fmt.Errorf("parse redirect target: %w", err)
		}
		return guard.Check(ctx, normalized.Hostname())
	}
}
