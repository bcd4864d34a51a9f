package authorization

import "context"

// Actor identifies the caller of an admin operation.
type Actor struct {
	ID   string
	Role string
}

// System is the actor used by scheduled jobs.
var System = Actor{ID: "scheduler", Role: RoleSystem}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}
