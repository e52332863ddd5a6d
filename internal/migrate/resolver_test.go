package migrate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
)

func TestResolver_ExcludesRecordsWithoutLinks(t *testing.T) {
	org := newFakeOrg(
		fakeRecord{ID: "a01", Name: "Invoice", Key: "K1", Docs: []string{"069A"}},
		fakeRecord{ID: "a02", Name: "Orphan", Key: "K2"},
	).addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "Invoice", Ext: "docx", Number: "1", Payload: []byte("inv")})

	core, logs := observer.New(zapcore.DebugLevel)
	r := NewResolver(zap.New(core), testRecords, 2)

	items, stats, err := r.Resolve(context.Background(), org, nil, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a01", items[0].SourceRecordID)
	assert.Equal(t, 1, stats.LinkedRecords)
	assert.Equal(t, 0, stats.Excluded())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestResolver_PicksHighestVersion(t *testing.T) {
	org := newFakeOrg(fakeRecord{ID: "a01", Name: "Quote", Docs: []string{"069A"}}).
		addVersion(fakeVersion{ID: "068v1", Document: "069A", Title: "Quote", Ext: "docx", Number: "1", Payload: []byte("v1")}).
		addVersion(fakeVersion{ID: "068v10", Document: "069A", Title: "Quote", Ext: "docx", Number: "10", Payload: []byte("v10")}).
		addVersion(fakeVersion{ID: "068v9", Document: "069A", Title: "Quote", Ext: "docx", Number: "9", Payload: []byte("v9")})

	items, _, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).Resolve(context.Background(), org, nil, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "068v10", items[0].VersionID)
	assert.Equal(t, []byte("v10"), items[0].Payload)
	assert.Equal(t, "Quote.docx", items[0].Filename)
	assert.Equal(t, []string{"068v10"}, org.fetches)

	versionQueries := org.queriesFor(versionObject)
	require.Len(t, versionQueries, 1)
	assert.Equal(t, []any{"069A"}, versionQueries[0].Args)
}

func TestResolver_KeepsGreatestDocumentPerRecord(t *testing.T) {
	org := newFakeOrg(fakeRecord{ID: "a01", Name: "Multi", Docs: []string{"069A", "069C", "069B"}}).
		addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "A", Ext: "pdf", Number: "1"}).
		addVersion(fakeVersion{ID: "068C", Document: "069C", Title: "C", Ext: "pdf", Number: "1"})

	items, stats, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).Resolve(context.Background(), org, nil, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "069C", items[0].DocumentID)
	assert.Equal(t, "C.pdf", items[0].Filename)
	assert.Equal(t, 1, stats.LinkedRecords)
}

func TestResolver_SilentExclusionsAreCounted(t *testing.T) {
	org := newFakeOrg(
		fakeRecord{ID: "a01", Name: "Good", Docs: []string{"069A"}},
		fakeRecord{ID: "a02", Name: "Broken", Docs: []string{"069B"}},
		fakeRecord{ID: "a03", Name: "NoVersion", Docs: []string{"069C"}},
	).
		addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "Good", Ext: "docx", Number: "1", Payload: []byte("ok")}).
		addVersion(fakeVersion{ID: "068B", Document: "069B", Title: "Broken", Ext: "docx", Number: "1",
			FetchErr: &salesforce.APIError{StatusCode: 500, Message: "boom"}})

	items, stats, err := NewResolver(zaptest.NewLogger(t), testRecords, 3).Resolve(context.Background(), org, nil, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a01", items[0].SourceRecordID)
	assert.Equal(t, 3, stats.LinkedRecords)
	assert.Equal(t, 1, stats.FetchFailed)
	assert.Equal(t, 1, stats.NoVersion)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.Excluded())
}

func TestResolver_OversizePayloadIsExcluded(t *testing.T) {
	org := newFakeOrg(fakeRecord{ID: "a01", Name: "Huge", Key: "K1", Docs: []string{"069A"}}).
		addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "Huge", Ext: "pdf", Number: "1",
			FetchErr: fmt.Errorf("%w: limit 16 bytes", salesforce.ErrPayloadTooLarge)})

	items, stats, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).Resolve(context.Background(), org, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, stats.FetchFailed)
	assert.Equal(t, 1, stats.Excluded())
}

func TestResolver_NameFilter(t *testing.T) {
	org := newFakeOrg(
		fakeRecord{ID: "a01", Name: "Invoice", Docs: []string{"069A"}},
		fakeRecord{ID: "a02", Name: "Quote", Docs: []string{"069B"}},
	).
		addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "Invoice", Ext: "docx", Number: "1"}).
		addVersion(fakeVersion{ID: "068B", Document: "069B", Title: "Quote", Ext: "docx", Number: "1"})

	items, _, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).
		Resolve(context.Background(), org, []string{"Quote", "O'Hara"}, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a02", items[0].SourceRecordID)

	linkQueries := org.queriesFor(linkObject)
	require.Len(t, linkQueries, 1)
	text, err := linkQueries[0].Render()
	require.NoError(t, err)
	assert.Contains(t, text, `Name IN ('Quote','O\'Hara')`)
}

func TestResolver_QueryFailureIsFatal(t *testing.T) {
	org := newFakeOrg(fakeRecord{ID: "a01", Name: "Invoice", Docs: []string{"069A"}})
	org.queryErr[versionObject] = salesforce.QueryError.New("INVALID_FIELD")

	_, _, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).Resolve(context.Background(), org, nil, nil)
	require.Error(t, err)
	assert.True(t, salesforce.QueryError.Has(err))
}

func TestResolver_InvalidSessionDuringFetchIsFatal(t *testing.T) {
	org := newFakeOrg(fakeRecord{ID: "a01", Name: "Invoice", Docs: []string{"069A"}}).
		addVersion(fakeVersion{ID: "068A", Document: "069A", Title: "Invoice", Ext: "docx", Number: "1",
			FetchErr: &salesforce.APIError{StatusCode: 401, Code: "INVALID_SESSION_ID"}})

	_, _, err := NewResolver(zaptest.NewLogger(t), testRecords, 1).Resolve(context.Background(), org, nil, nil)
	require.Error(t, err)
	assert.True(t, salesforce.IsSessionInvalid(err))
}

func TestResolver_ConcurrentDownloadKeepsAttribution(t *testing.T) {
	var records []fakeRecord
	org := newFakeOrg()
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("a%02d", i)
		doc := fmt.Sprintf("069%02d", i)
		records = append(records, fakeRecord{ID: id, Name: "T" + id, Docs: []string{doc}})
		org.addVersion(fakeVersion{ID: "068" + id, Document: doc, Title: "T" + id, Ext: "txt", Number: "1", Payload: []byte(id)})
	}
	org.records = records

	var calls []int
	items, stats, err := NewResolver(zaptest.NewLogger(t), testRecords, 8).
		Resolve(context.Background(), org, nil, func(done, total int) {
			assert.Equal(t, 25, total)
			calls = append(calls, done)
		})
	require.NoError(t, err)
	require.Len(t, items, 25)
	assert.Equal(t, 25, stats.Resolved)
	for i, item := range items {
		id := fmt.Sprintf("a%02d", i)
		assert.Equal(t, id, item.SourceRecordID)
		assert.Equal(t, []byte(id), item.Payload)
	}
	require.Len(t, calls, 25)
	assert.Equal(t, 25, calls[len(calls)-1])
}

func TestResolver_InvalidRecordNames(t *testing.T) {
	bad := Records{Object: "Template__c; DELETE", KeyField: "Key__c", NameField: "Name"}
	_, err := NewResolver(zaptest.NewLogger(t), bad, 1).Links(context.Background(), newFakeOrg(), nil)
	require.Error(t, err)
	assert.True(t, salesforce.QueryError.Has(err))
}

func TestNewer(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"2", "1", true},
		{"10", "9", true},
		{"9", "10", false},
		{"3", "3", false},
		{"1.10", "1.9", true},
		{"b", "a", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+">"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, newer(tt.a, tt.b))
		})
	}
}

func TestVersionFilename(t *testing.T) {
	assert.Equal(t, "Quote.docx", version{Title: "Quote", Extension: "docx"}.Filename())
	assert.Equal(t, "Quote", version{Title: "Quote"}.Filename())
	assert.Equal(t, "v1.2.pdf", version{Title: "v1.2", Extension: "pdf"}.Filename())
}
