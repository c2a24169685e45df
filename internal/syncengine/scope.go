package syncengine

import "context"

type actorKey struct{}

// WithActor attaches the authenticated actor id a request was
// authorized for to ctx, so a ScopeFunc built from NewScopeFunc can
// authorize the scope it claims against that actor. The transport layer
// is responsible for populating this from whatever credential scheme
// the deployment uses before calling into the engine.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor id attached by WithActor, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok
}

// ScopeAuthorizer answers whether actor may operate under claimed,
// mapping to a ScopeVerdict and the scope the request is actually
// entitled to (ScopeNarrowed lets an authorizer substitute a narrower
// scope than the one claimed, e.g. a read-only subset).
type ScopeAuthorizer interface {
	Authorize(ctx context.Context, actor, claimed string) (ScopeVerdict, string, error)
}

// StaticAuthorizer is a ScopeAuthorizer backed by a fixed actor -> extra
// allowed scopes grant map, for deployments that provision access out
// of band (a config file, an admin API) instead of computing it per
// request. An actor is always entitled to the scope matching its own
// id; grants add scopes beyond that default, e.g. an operator actor
// fanned out across several tenant scopes.
type StaticAuthorizer struct {
	grants map[string][]string
}

// NewStaticAuthorizer constructs a StaticAuthorizer. grants maps an
// actor id to the additional scopes (beyond its own id) it may operate
// under; a nil map means no actor has any grant beyond its own scope.
func NewStaticAuthorizer(grants map[string][]string) *StaticAuthorizer {
	return &StaticAuthorizer{grants: grants}
}

func (a *StaticAuthorizer) Authorize(_ context.Context, actor, claimed string) (ScopeVerdict, string, error) {
	if claimed == actor {
		return ScopeActive, claimed, nil
	}
	for _, s := range a.grants[actor] {
		if s == claimed {
			return ScopeActive, claimed, nil
		}
	}
	return ScopeRevoked, "", nil
}

// NewScopeFunc adapts a ScopeAuthorizer into the ScopeFunc Engine.Options
// expects (component C2). A request whose context carries no actor —
// the transport layer never authenticated it — is always revoked rather
// than falling through to the claimed scope unchecked.
func NewScopeFunc(authz ScopeAuthorizer) ScopeFunc {
	return func(ctx context.Context, claimed string) (string, ScopeVerdict, error) {
		actor, ok := ActorFromContext(ctx)
		if !ok || actor == "" {
			return "", ScopeRevoked, nil
		}
		verdict, scope, err := authz.Authorize(ctx, actor, claimed)
		if err != nil {
			return "", ScopeRevoked, err
		}
		return scope, verdict, nil
	}
}
