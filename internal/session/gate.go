package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var ErrNotEstablished = errors.New("session not established")

// Established is the one-shot result of the fetch that commits a role's
// credentials. Gates wait on it instead of polling the cookie store.
type Established struct {
	done  chan struct{}
	once  sync.Once
	creds Credentials
	err   error
}

func NewEstablished() *Established {
	return &Established{done: make(chan struct{})}
}

// Establish runs fn concurrently and resolves the returned future with its result.
func Establish(ctx context.Context, fn func(context.Context) (Credentials, error)) *Established {
	est := NewEstablished()
	go func() {
		creds, err := fn(ctx)
		if err != nil {
			est.Fail(err)
			return
		}
		est.Commit(creds)
	}()
	return est
}

// Commit resolves the future with committed credentials. Later calls are ignored.
func (e *Established) Commit(creds Credentials) {
	e.once.Do(func() {
		e.creds = creds
		close(e.done)
	})
}

func (e *Established) Fail(err error) {
	if err == nil {
		err = ErrNotEstablished
	}
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

func (e *Established) Wait(ctx context.Context) (Credentials, error) {
	select {
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	case <-e.done:
		return e.creds, e.err
	}
}

type profileKey struct{}

func ContextWithProfile(ctx context.Context, profile Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, profile)
}

func ProfileFromContext(ctx context.Context) (Profile, bool) {
	profile, ok := ctx.Value(profileKey{}).(Profile)
	return profile, ok
}

type Gate struct {
	jar *Jar
}

func NewGate(jar *Jar) *Gate {
	return &Gate{jar: jar}
}

// Decide checks credentials once. A profile cookie that fails verification
// counts as absent.
func (g *Gate) Decide(role Role, creds Credentials) (State, Profile) {
	if Check(creds) != Authorized {
		return Unauthorized, Profile{}
	}
	profile, err := g.jar.Profile(role, creds.Profile)
	if err != nil {
		return Unauthorized, Profile{}
	}
	return Authorized, profile
}

// Await decides only after est has resolved. A failed establishment is
// Unauthorized; a cancelled wait stays Unknown and returns the context error.
func (g *Gate) Await(ctx context.Context, role Role, est *Established) (State, Profile, error) {
	creds, err := est.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Unknown, Profile{}, err
		}
		return Unauthorized, Profile{}, nil
	}
	state, profile := g.Decide(role, creds)
	return state, profile, nil
}

// Require guards a view for one role and redirects to that role's login
// route when any credential is missing.
func (g *Gate) Require(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, profile := g.Decide(role, Read(r, role))
			if state != Authorized {
				http.Redirect(w, r, role.LoginPath(), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithProfile(r.Context(), profile)))
		})
	}
}
