package migrate

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// Object and field names of the file model.
const (
	linkObject      = "ContentDocumentLink"
	versionObject   = "ContentVersion"
	maxDocumentKey  = "maxDocumentId"
	linkedEntityKey = "LinkedEntityId"
)

// DocumentLink is the one document kept for a template record.
type DocumentLink struct {
	RecordID   string
	DocumentID string
}

// Resolver finds the latest file version of every template record and
// downloads its payload.
type Resolver struct {
	records Records
	workers int
	log     *zap.Logger
}

// NewResolver returns a resolver downloading with up to workers
// concurrent requests.
func NewResolver(log *zap.Logger, records Records, workers int) *Resolver {
	if workers <= 0 {
		workers = 1
	}
	return &Resolver{
		records: records,
		workers: workers,
		log:     log.Named("resolver"),
	}
}

// Resolve runs Links followed by Download.
func (r *Resolver) Resolve(ctx context.Context, src Session, names []string, progress ProgressFunc) ([]models.TransferItem, models.ResolveStats, error) {
	links, err := r.Links(ctx, src, names)
	if err != nil {
		return nil, models.ResolveStats{}, err
	}
	return r.Download(ctx, src, links, progress)
}

// Links returns, per template record, the link with the greatest document
// id. Records owning several documents keep only that one; records with
// no link do not appear. An empty names list selects every record.
func (r *Resolver) Links(ctx context.Context, src Session, names []string) ([]DocumentLink, error) {
	if err := r.records.Validate(); err != nil {
		return nil, salesforce.QueryError.Wrap(err)
	}

	q := salesforce.Query{
		Object:  linkObject,
		Fields:  []string{"MAX(ContentDocumentId) " + maxDocumentKey, linkedEntityKey},
		Where:   fmt.Sprintf("%s IN (SELECT Id FROM %s)", linkedEntityKey, r.records.Object),
		GroupBy: linkedEntityKey,
	}
	if len(names) > 0 {
		q.Where = fmt.Sprintf("%s IN (SELECT Id FROM %s WHERE %s IN ?)", linkedEntityKey, r.records.Object, r.records.NameField)
		q.Args = []any{names}
	}

	rows, err := src.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	links := make([]DocumentLink, 0, len(rows))
	for _, row := range rows {
		link := DocumentLink{
			RecordID:   row.String(linkedEntityKey),
			DocumentID: row.String(maxDocumentKey),
		}
		if link.RecordID == "" || link.DocumentID == "" {
			continue
		}
		links = append(links, link)
	}
	r.log.Debug("document links", zap.Int("records", len(links)))
	return links, nil
}

type version struct {
	ID        string
	Title     string
	Extension string
	Number    string
}

// Filename is "{title}.{extension}", or the bare title without an extension.
func (v version) Filename() string {
	if v.Extension == "" {
		return v.Title
	}
	return v.Title + "." + v.Extension
}

// newer orders version numbers numerically, falling back to text order.
func newer(a, b string) bool {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return an > bn
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// latestVersion returns the version with the greatest version number.
func (r *Resolver) latestVersion(ctx context.Context, src Session, documentID string) (version, bool, error) {
	rows, err := src.Query(ctx, salesforce.Query{
		Object:  versionObject,
		Fields:  []string{"Id", "Title", "FileExtension", "VersionNumber"},
		Where:   "ContentDocumentId = ?",
		Args:    []any{documentID},
		OrderBy: "VersionNumber DESC",
	})
	if err != nil {
		return version{}, false, err
	}

	var best version
	found := false
	for _, row := range rows {
		v := version{
			ID:        row.String("Id"),
			Title:     row.String("Title"),
			Extension: row.String("FileExtension"),
			Number:    row.String("VersionNumber"),
		}
		if !found || newer(v.Number, best.Number) {
			best, found = v, true
		}
	}
	return best, found, nil
}

type resolveOutcome int

const (
	outcomePending resolveOutcome = iota
	outcomeResolved
	outcomeNoVersion
	outcomeFetchFailed
)

// Download resolves the latest version of every link and fetches its
// payload. Links without a version and payloads that cannot be fetched
// are left out and counted; query failures and invalid sessions abort.
// Items keep the order of links.
func (r *Resolver) Download(ctx context.Context, src Session, links []DocumentLink, progress ProgressFunc) ([]models.TransferItem, models.ResolveStats, error) {
	stats := models.ResolveStats{LinkedRecords: len(links)}
	items := make([]models.TransferItem, len(links))
	outcomes := make([]resolveOutcome, len(links))

	var mu sync.Mutex
	done := 0
	report := func() {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		progress(done, len(links))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, link := range links {
		g.Go(func() error {
			defer report()

			v, ok, err := r.latestVersion(gctx, src, link.DocumentID)
			if err != nil {
				return err
			}
			if !ok {
				outcomes[i] = outcomeNoVersion
				r.log.Debug("excluded: no version",
					zap.String("record", link.RecordID),
					zap.String("document", link.DocumentID))
				return nil
			}

			payload, err := src.FetchBinary(gctx, v.ID)
			if err != nil {
				if salesforce.IsSessionInvalid(err) {
					return err
				}
				outcomes[i] = outcomeFetchFailed
				r.log.Debug("excluded: fetch failed",
					zap.String("record", link.RecordID),
					zap.String("version", v.ID),
					zap.Error(err))
				return nil
			}

			items[i] = models.TransferItem{
				SourceRecordID: link.RecordID,
				DocumentID:     link.DocumentID,
				VersionID:      v.ID,
				Filename:       v.Filename(),
				Payload:        payload,
			}
			outcomes[i] = outcomeResolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	resolved := make([]models.TransferItem, 0, len(links))
	for i, outcome := range outcomes {
		switch outcome {
		case outcomeResolved:
			resolved = append(resolved, items[i])
		case outcomeNoVersion:
			stats.NoVersion++
		case outcomeFetchFailed:
			stats.FetchFailed++
		}
	}
	stats.Resolved = len(resolved)

	r.log.Info("resolved files",
		zap.Int("linked", stats.LinkedRecords),
		zap.Int("resolved", stats.Resolved),
		zap.Int("no_version", stats.NoVersion),
		zap.Int("fetch_failed", stats.FetchFailed))
	return resolved, stats, nil
}
