package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
)

var testRecords = Records{Object: "Template__c", KeyField: "Key__c", NameField: "Name"}

type fakeRecord struct {
	ID   string
	Name string
	Key  string
	Docs []string
}

type fakeVersion struct {
	ID       string
	Document string
	Title    string
	Ext      string
	Number   string
	Payload  []byte
	FetchErr error
}

// fakeOrg is an in-memory store answering the queries the pipeline sends.
type fakeOrg struct {
	mu        sync.Mutex
	records   []fakeRecord
	versions  []fakeVersion
	createErr map[string]error // keyed by PathOnClient
	queryErr  map[string]error // keyed by object
	queries   []salesforce.Query
	fetches   []string
	created   []map[string]any
}

func newFakeOrg(records ...fakeRecord) *fakeOrg {
	return &fakeOrg{
		records:   records,
		createErr: make(map[string]error),
		queryErr:  make(map[string]error),
	}
}

func (o *fakeOrg) addVersion(v fakeVersion) *fakeOrg {
	o.versions = append(o.versions, v)
	return o
}

func (o *fakeOrg) queriesFor(object string) []salesforce.Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []salesforce.Query
	for _, q := range o.queries {
		if q.Object == object {
			out = append(out, q)
		}
	}
	return out
}

func (o *fakeOrg) createCalls() []map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]map[string]any(nil), o.created...)
}

func stringsArg(q salesforce.Query) []string {
	if len(q.Args) == 0 {
		return nil
	}
	list, _ := q.Args[0].([]string)
	return list
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (o *fakeOrg) Query(ctx context.Context, q salesforce.Query) ([]salesforce.Row, error) {
	if _, err := q.Render(); err != nil {
		return nil, salesforce.QueryError.Wrap(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, q)
	if err := o.queryErr[q.Object]; err != nil {
		return nil, err
	}

	var rows []salesforce.Row
	switch q.Object {
	case linkObject:
		names := stringsArg(q)
		for _, rec := range o.records {
			if len(rec.Docs) == 0 || (names != nil && !contains(names, rec.Name)) {
				continue
			}
			maxDoc := rec.Docs[0]
			for _, d := range rec.Docs[1:] {
				if d > maxDoc {
					maxDoc = d
				}
			}
			rows = append(rows, salesforce.Row{maxDocumentKey: maxDoc, linkedEntityKey: rec.ID})
		}
	case versionObject:
		doc, _ := q.Args[0].(string)
		for _, v := range o.versions {
			if v.Document == doc {
				rows = append(rows, salesforce.Row{
					"Id": v.ID, "Title": v.Title, "FileExtension": v.Ext, "VersionNumber": v.Number,
				})
			}
		}
	case testRecords.Object:
		ids := stringsArg(q)
		for _, rec := range o.records {
			if ids != nil && !contains(ids, rec.ID) {
				continue
			}
			row := salesforce.Row{"Id": rec.ID, "Name": rec.Name}
			if rec.Key != "" {
				row[testRecords.KeyField] = rec.Key
			}
			rows = append(rows, row)
		}
	default:
		return nil, salesforce.QueryError.New("unknown object %s", q.Object)
	}
	return rows, nil
}

func (o *fakeOrg) FetchBinary(ctx context.Context, versionID string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, versionID)
	for _, v := range o.versions {
		if v.ID != versionID {
			continue
		}
		if v.FetchErr != nil {
			return nil, salesforce.FetchError.Wrap(v.FetchErr)
		}
		return v.Payload, nil
	}
	return nil, salesforce.FetchError.Wrap(&salesforce.APIError{StatusCode: 404, Message: "missing"})
}

func (o *fakeOrg) CreateRecord(ctx context.Context, sobject string, fields map[string]any) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, fields)
	if err := o.createErr[fmt.Sprint(fields["PathOnClient"])]; err != nil {
		return "", err
	}
	return fmt.Sprintf("068NEW%d", len(o.created)), nil
}

// fakeAuth hands out orgs by username and counts logins.
type fakeAuth struct {
	mu     sync.Mutex
	orgs   map[string]*fakeOrg
	logins int
}

var errBadLogin = errors.New("INVALID_LOGIN")

func (a *fakeAuth) Authenticate(ctx context.Context, creds salesforce.Credentials) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logins++
	org, ok := a.orgs[creds.Username]
	if !ok || creds.Password != "pw" {
		return nil, salesforce.AuthError.Wrap(errBadLogin)
	}
	return org, nil
}

func creds(user string) salesforce.Credentials {
	return salesforce.Credentials{Username: user, Password: "pw", Domain: salesforce.DomainLogin}
}

var sessionExpired = salesforce.AuthError.Wrap(&salesforce.APIError{
	StatusCode: 401,
	Code:       "INVALID_SESSION_ID",
	Message:    "Session expired or invalid",
})
