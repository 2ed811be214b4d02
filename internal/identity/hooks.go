package identity

import "github.com/CobaltCoveLabs/lanyard/internal/accounts"

// AuthorizeCreationFunc decides whether an account may be created for the
// seed. It receives the decision so far; the last registered override wins.
type AuthorizeCreationFunc func(seed accounts.Seed, allowed bool) bool

// TransformSeedFunc may adjust seed attributes immediately before creation.
type TransformSeedFunc func(seed accounts.Seed) accounts.Seed

// NotifyFunc observes an account after a creation, link, or update.
type NotifyFunc func(account accounts.Account, seed accounts.Seed)

// Hooks is the ordered set of extension callbacks consulted by the
// provisioner. Observers are fire-only; only the creation-authorization
// strategy returns a value.
type Hooks struct {
	authorizeCreation []AuthorizeCreationFunc
	transformSeed     []TransformSeedFunc
	afterCreate       []NotifyFunc
	afterLink         []NotifyFunc
	afterUpdate       []NotifyFunc
}

// NewHooks returns an empty hook set.
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnAuthorizeCreation registers a creation-authorization override.
func (h *Hooks) OnAuthorizeCreation(fn AuthorizeCreationFunc) {
	if fn != nil {
		h.authorizeCreation = append(h.authorizeCreation, fn)
	}
}

// OnTransformSeed registers a pre-creation seed transform.
func (h *Hooks) OnTransformSeed(fn TransformSeedFunc) {
	if fn != nil {
		h.transformSeed = append(h.transformSeed, fn)
	}
}

// OnCreate registers a post-creation observer.
func (h *Hooks) OnCreate(fn NotifyFunc) {
	if fn != nil {
		h.afterCreate = append(h.afterCreate, fn)
	}
}

// OnLink registers a post-link observer.
func (h *Hooks) OnLink(fn NotifyFunc) {
	if fn != nil {
		h.afterLink = append(h.afterLink, fn)
	}
}

// OnUpdate registers a post-update observer.
func (h *Hooks) OnUpdate(fn NotifyFunc) {
	if fn != nil {
		h.afterUpdate = append(h.afterUpdate, fn)
	}
}

func (h *Hooks) authorize(seed accounts.Seed, defaultAllowed bool) bool {
	allowed := defaultAllowed
	for _, fn := range h.authorizeCreation {
		allowed = fn(seed, allowed)
	}
	return allowed
}

func (h *Hooks) transform(seed accounts.Seed) accounts.Seed {
	for _, fn := range h.transformSeed {
		seed = fn(seed)
	}
	return seed
}

func (h *Hooks) notifyCreate(account accounts.Account, seed accounts.Seed) {
	for _, fn := range h.afterCreate {
		fn(account, seed)
	}
}

func (h *Hooks) notifyLink(account accounts.Account, seed accounts.Seed) {
	for _, fn := range h.afterLink {
		fn(account, seed)
	}
}

func (h *Hooks) notifyUpdate(account accounts.Account, seed accounts.Seed) {
	for _, fn := range h.afterUpdate {
		fn(account, seed)
	}
}
