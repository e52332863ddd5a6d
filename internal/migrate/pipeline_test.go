package migrate

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

type fakeLedger struct {
	mu       sync.Mutex
	runs     map[string]*models.Run
	items    map[string][]models.Outcome
	finished map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		runs:     make(map[string]*models.Run),
		items:    make(map[string][]models.Outcome),
		finished: make(map[string]string),
	}
}

func (l *fakeLedger) CreateRun(run *models.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[run.ID] = run
	return nil
}

func (l *fakeLedger) SaveItems(runID string, items []models.TransferItem, outcomes []models.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[runID] = outcomes
	return nil
}

func (l *fakeLedger) FinishRun(runID, state, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[runID] = state
	return nil
}

// scenario: source R1{A}, R2{B}, target T1{B}.
func scenario() (*fakeOrg, *fakeOrg, *fakeAuth) {
	src := newFakeOrg(
		fakeRecord{ID: "R1", Name: "First", Key: "A", Docs: []string{"069R1"}},
		fakeRecord{ID: "R2", Name: "Second", Key: "B", Docs: []string{"069R2"}},
	).
		addVersion(fakeVersion{ID: "068R1", Document: "069R1", Title: "First", Ext: "docx", Number: "1", Payload: []byte("first")}).
		addVersion(fakeVersion{ID: "068R2", Document: "069R2", Title: "Second", Ext: "docx", Number: "1", Payload: []byte("second")})
	tgt := newFakeOrg(fakeRecord{ID: "T1", Name: "Second", Key: "B"})
	auth := &fakeAuth{orgs: map[string]*fakeOrg{"src@example.com": src, "tgt@example.com": tgt}}
	return src, tgt, auth
}

func params() Params {
	return Params{Source: creds("src@example.com"), Target: creds("tgt@example.com")}
}

func archiveEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = body
	}
	return out
}

func TestPipeline_Scenario(t *testing.T) {
	_, tgt, auth := scenario()
	ledger := newFakeLedger()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords, FetchWorkers: 2, Ledger: ledger})

	var events []Event
	result, err := p.Run(context.Background(), NewRunContext(), params(), func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, []models.Target{models.Unmapped, models.MappedTo("T1")}, result.Targets)
	assert.Equal(t, 1, result.Report.Succeeded)
	assert.Equal(t, 1, result.Report.Skipped)
	assert.Empty(t, result.Report.Failed)

	calls := tgt.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "T1", calls[0]["FirstPublishLocationId"])
	assert.Equal(t, "Second.docx", calls[0]["PathOnClient"])

	entries := archiveEntries(t, result.Archive)
	assert.Equal(t, map[string][]byte{"First.docx": []byte("first"), "Second.docx": []byte("second")}, entries)

	var labels []string
	for _, ev := range events {
		if ev.Kind == EventStage {
			labels = append(labels, ev.Label)
		}
	}
	assert.Equal(t, []string{
		LabelAuthenticating, LabelQuerying, LabelDownloading, LabelMapping, LabelUploading, LabelArchiving,
	}, labels)
	last := events[len(events)-1]
	assert.Equal(t, EventFinished, last.Kind)
	assert.Equal(t, StateDone, last.State)
	assert.Same(t, result, last.Result)

	assert.Equal(t, string(StateDone), ledger.finished[result.RunID])
	assert.Len(t, ledger.items[result.RunID], 2)
	assert.Equal(t, "src@example.com", ledger.runs[result.RunID].SourceUser)
}

func TestPipeline_PartialFailure(t *testing.T) {
	_, tgt, auth := scenario()
	tgt.records = append(tgt.records, fakeRecord{ID: "T2", Key: "A"})
	tgt.createErr["First.docx"] = salesforce.UploadError.Wrap(&salesforce.APIError{StatusCode: 400, Code: "STORAGE_LIMIT_EXCEEDED"})

	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})
	result, err := p.Run(context.Background(), NewRunContext(), params(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatePartiallyFailed, result.State)
	assert.Equal(t, 1, result.Report.Succeeded)
	assert.Equal(t, 0, result.Report.Skipped)
	require.Len(t, result.Report.Failed, 1)
	assert.Equal(t, "First.docx", result.Report.Failed[0].Item.Filename)
	assert.Len(t, archiveEntries(t, result.Archive), 2)
	assert.Contains(t, result.Summary(), "failed 1")
}

func TestPipeline_AuthFailure(t *testing.T) {
	_, _, auth := scenario()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})

	bad := params()
	bad.Target.Password = "wrong"
	var finished []Event
	result, err := p.Run(context.Background(), NewRunContext(), bad, func(ev Event) {
		if ev.Kind == EventFinished {
			finished = append(finished, ev)
		}
	})
	require.Error(t, err)
	assert.True(t, salesforce.AuthError.Has(err))
	assert.Equal(t, StateFailed, result.State)
	assert.Nil(t, result.Archive)
	assert.Nil(t, result.Report)
	require.Len(t, finished, 1)
	assert.Equal(t, StateFailed, finished[0].State)
}

func TestPipeline_QueryFailure(t *testing.T) {
	src, _, auth := scenario()
	src.queryErr[linkObject] = salesforce.QueryError.New("MALFORMED_QUERY")

	rc := NewRunContext()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})
	result, err := p.Run(context.Background(), rc, params(), nil)
	require.Error(t, err)
	assert.True(t, salesforce.QueryError.Has(err))
	assert.Equal(t, StateFailed, result.State)

	// query failures leave the sessions usable
	_, err = p.Run(context.Background(), rc, params(), nil)
	require.Error(t, err)
	assert.Equal(t, 2, auth.logins)
}

func TestPipeline_SessionInvalidatedDuringTransfer(t *testing.T) {
	_, tgt, auth := scenario()
	tgt.createErr["Second.docx"] = sessionExpired

	rc := NewRunContext()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})
	result, err := p.Run(context.Background(), rc, params(), nil)
	require.Error(t, err)
	assert.True(t, salesforce.IsSessionInvalid(err))
	assert.Equal(t, StateFailed, result.State)
	assert.Len(t, archiveEntries(t, result.Archive), 2)

	// cached sessions were dropped, so the next run logs in again
	_, err = p.Run(context.Background(), rc, params(), nil)
	require.Error(t, err)
	assert.Equal(t, 4, auth.logins)
}

func TestPipeline_ReusesCachedSessions(t *testing.T) {
	_, _, auth := scenario()
	rc := NewRunContext()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})

	first, err := p.Run(context.Background(), rc, params(), nil)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), rc, params(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, auth.logins)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunContext_ChangedPasswordLogsInAgain(t *testing.T) {
	_, _, auth := scenario()
	rc := NewRunContext()
	ctx := context.Background()

	first, err := rc.Session(ctx, auth, creds("src@example.com"))
	require.NoError(t, err)
	again, err := rc.Session(ctx, auth, creds("src@example.com"))
	require.NoError(t, err)
	assert.Same(t, first.(*fakeOrg), again.(*fakeOrg))
	assert.Equal(t, 1, auth.logins)

	wrong := creds("src@example.com")
	wrong.Password = "wrong"
	_, err = rc.Session(ctx, auth, wrong)
	require.Error(t, err)
	assert.True(t, salesforce.AuthError.Has(err))
	assert.Equal(t, 2, auth.logins)
}

func TestPipeline_NothingToMigrate(t *testing.T) {
	src := newFakeOrg(fakeRecord{ID: "R1", Key: "A"})
	tgt := newFakeOrg()
	auth := &fakeAuth{orgs: map[string]*fakeOrg{"src@example.com": src, "tgt@example.com": tgt}}

	result, err := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords}).
		Run(context.Background(), nil, params(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Empty(t, result.Items)
	assert.Empty(t, archiveEntries(t, result.Archive))
	assert.Empty(t, tgt.queries)
}

func TestPipeline_Templates(t *testing.T) {
	src, _, auth := scenario()
	rc := NewRunContext()
	p := NewPipeline(zaptest.NewLogger(t), auth, Config{Records: testRecords})

	names, err := p.Templates(context.Background(), rc, creds("src@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, names)

	_, err = p.Templates(context.Background(), rc, creds("src@example.com"))
	require.NoError(t, err)
	assert.Len(t, src.queriesFor(testRecords.Object), 1)
	assert.Equal(t, 1, auth.logins)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StatePartiallyFailed.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateArchiving.Terminal())
	assert.False(t, StateIdle.Terminal())
}
