package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a promo code and checks that it is usable at the given
// instant. Implementations must not mutate any state.
type Validator interface {
	Validate(ctx context.Context, code string, now time.Time) (*Promo, error)
}

// RepoValidator implements Validator by looking up promos from a Repository
// and applying Check.
type RepoValidator struct {
	repo Repository
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo}
}

// Validate normalizes code, loads the promo and runs Check. Blank codes are
// reported as ErrNotFound without touching the repository.
func (v *RepoValidator) Validate(ctx context.Context, code string, now time.Time) (*Promo, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	p, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promo")
	}

	if err := Check(p, now); err != nil {
		return nil, err
	}
	return p, nil
}
