package migrate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
)

// Session is the store capability the pipeline needs.
type Session interface {
	Query(ctx context.Context, q salesforce.Query) ([]salesforce.Row, error)
	FetchBinary(ctx context.Context, versionID string) ([]byte, error)
	CreateRecord(ctx context.Context, sobject string, fields map[string]any) (string, error)
}

// Authenticator opens sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, creds salesforce.Credentials) (Session, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, creds salesforce.Credentials) (Session, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, creds salesforce.Credentials) (Session, error) {
	return f(ctx, creds)
}

// FromProvider adapts a salesforce.Provider.
func FromProvider(p *salesforce.Provider) Authenticator {
	return AuthenticatorFunc(func(ctx context.Context, creds salesforce.Credentials) (Session, error) {
		s, err := p.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Records names the template object and the fields the pipeline reads.
type Records struct {
	Object    string
	KeyField  string
	NameField string
}

// Validate rejects names that cannot be placed in a query.
func (r Records) Validate() error {
	for _, name := range []string{r.Object, r.KeyField, r.NameField} {
		if !salesforce.ValidIdentifier(name) {
			return fmt.Errorf("invalid record field or object name %q", name)
		}
	}
	return nil
}

// ListTemplateNames returns the sorted names of all template records.
func ListTemplateNames(ctx context.Context, s Session, records Records) ([]string, error) {
	if err := records.Validate(); err != nil {
		return nil, salesforce.QueryError.Wrap(err)
	}
	rows, err := s.Query(ctx, salesforce.Query{
		Object:  records.Object,
		Fields:  []string{records.NameField},
		OrderBy: records.NameField,
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := row.String(records.NameField); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RunContext holds what a caller keeps between runs: authenticated
// sessions and the last template name listing per source org. It is owned
// by the caller and scoped to one client interaction.
type RunContext struct {
	mu       sync.Mutex
	sessions map[string]Session
	names    map[string][]string
}

// NewRunContext returns an empty context.
func NewRunContext() *RunContext {
	return &RunContext{
		sessions: make(map[string]Session),
		names:    make(map[string][]string),
	}
}

// Session returns the cached session for creds or authenticates.
func (rc *RunContext) Session(ctx context.Context, auth Authenticator, creds salesforce.Credentials) (Session, error) {
	key := creds.CacheKey()

	rc.mu.Lock()
	s, ok := rc.sessions[key]
	rc.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := auth.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.sessions[key] = s
	rc.mu.Unlock()
	return s, nil
}

// Forget drops the cached session and name listing for creds.
func (rc *RunContext) Forget(creds salesforce.Credentials) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.sessions, creds.CacheKey())
	delete(rc.names, creds.CacheKey())
}

// TemplateNames returns the cached listing for creds, querying it on first use.
func (rc *RunContext) TemplateNames(ctx context.Context, auth Authenticator, creds salesforce.Credentials, records Records) ([]string, error) {
	key := creds.CacheKey()

	rc.mu.Lock()
	names, ok := rc.names[key]
	rc.mu.Unlock()
	if ok {
		return names, nil
	}

	s, err := rc.Session(ctx, auth, creds)
	if err != nil {
		return nil, err
	}
	names, err = ListTemplateNames(ctx, s, records)
	if err != nil {
		if salesforce.IsSessionInvalid(err) {
			rc.Forget(creds)
		}
		return nil, err
	}

	rc.mu.Lock()
	rc.names[key] = names
	rc.mu.Unlock()
	return names, nil
}
