package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chmdznr/template-file-migrator/internal/archive"
	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/models"
)

// Params are the validated inputs of one run.
type Params struct {
	Source salesforce.Credentials
	Target salesforce.Credentials
	// Names selects template records by name; empty migrates all.
	Names []string
}

// Result is everything a run produced.
type Result struct {
	RunID      string
	State      State
	Resolve    models.ResolveStats
	Items      []models.TransferItem
	Targets    []models.Target
	Report     *models.TransferReport
	Archive    []byte
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ledger records runs. Ledger failures are logged and never fail a run.
type Ledger interface {
	CreateRun(run *models.Run) error
	SaveItems(runID string, items []models.TransferItem, outcomes []models.Outcome) error
	FinishRun(runID string, state string, errMsg string) error
}

// Config configures a Pipeline.
type Config struct {
	Records      Records
	FetchWorkers int
	MapBatchSize int
	// Ledger is optional.
	Ledger Ledger
}

// Pipeline runs migrations: resolve, map, transfer, archive.
type Pipeline struct {
	auth     Authenticator
	resolver *Resolver
	mapper   *Mapper
	transfer *TransferEngine
	ledger   Ledger
	log      *zap.Logger
	now      func() time.Time
}

// NewPipeline returns a pipeline opening sessions through auth.
func NewPipeline(log *zap.Logger, auth Authenticator, cfg Config) *Pipeline {
	return &Pipeline{
		auth:     auth,
		resolver: NewResolver(log, cfg.Records, cfg.FetchWorkers),
		mapper:   NewMapper(log, cfg.Records, cfg.MapBatchSize),
		transfer: NewTransferEngine(log),
		ledger:   cfg.Ledger,
		log:      log.Named("pipeline"),
		now:      time.Now,
	}
}

// run is the state machine of one invocation.
type run struct {
	p       *Pipeline
	rc      *RunContext
	params  Params
	observe Observer
	result  *Result
	visited map[State]bool
}

func (r *run) emit(ev Event) {
	if r.observe != nil {
		r.observe(ev)
	}
}

func (r *run) enter(state State, label string) {
	if r.visited[state] {
		panic(PrecheckViolation{Msg: fmt.Sprintf("state %s entered twice", state)})
	}
	r.visited[state] = true
	r.result.State = state
	r.p.log.Debug("state", zap.String("run", r.result.RunID), zap.String("state", string(state)))
	if label != "" {
		r.emit(Event{Kind: EventStage, State: state, Label: label})
	}
}

func (r *run) progress(label string) ProgressFunc {
	return func(done, total int) {
		r.emit(Event{Kind: EventProgress, State: r.result.State, Label: label, Done: done, Total: total})
	}
}

// fail ends the run in StateFailed. Cached sessions are dropped when the
// failure says they can no longer be used.
func (r *run) fail(err error) (*Result, error) {
	if salesforce.AuthError.Has(err) || salesforce.IsSessionInvalid(err) {
		r.rc.Forget(r.params.Source)
		r.rc.Forget(r.params.Target)
	}
	r.result.Err = err
	r.p.log.Error("run failed",
		zap.String("run", r.result.RunID),
		zap.String("state", string(r.result.State)),
		zap.Error(err))
	return r.finish(StateFailed)
}

func (r *run) finish(state State) (*Result, error) {
	r.result.State = state
	r.result.FinishedAt = r.p.now()

	if r.p.ledger != nil {
		msg := ""
		if r.result.Err != nil {
			msg = r.result.Err.Error()
		}
		if err := r.p.ledger.FinishRun(r.result.RunID, string(state), msg); err != nil {
			r.p.log.Warn("ledger: finish run", zap.Error(err))
		}
	}

	r.emit(Event{Kind: EventFinished, State: state, Result: r.result})
	return r.result, r.result.Err
}

// Run performs one migration. The returned Result is never nil; err is
// non-nil exactly when the run ends in StateFailed. The archive is built
// for every run that reaches the transfer stage, whatever its outcome.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext, params Params, observe Observer) (*Result, error) {
	if rc == nil {
		rc = NewRunContext()
	}
	r := &run{
		p:       p,
		rc:      rc,
		params:  params,
		observe: observe,
		visited: map[State]bool{StateIdle: true},
		result: &Result{
			RunID:     uuid.NewString(),
			State:     StateIdle,
			StartedAt: p.now(),
		},
	}

	if p.ledger != nil {
		err := p.ledger.CreateRun(&models.Run{
			ID:         r.result.RunID,
			StartedAt:  r.result.StartedAt,
			State:      string(StateAuthenticating),
			SourceUser: params.Source.Username,
			TargetUser: params.Target.Username,
		})
		if err != nil {
			p.log.Warn("ledger: create run", zap.Error(err))
		}
	}

	r.enter(StateAuthenticating, LabelAuthenticating)
	src, err := rc.Session(ctx, p.auth, params.Source)
	if err != nil {
		return r.fail(fmt.Errorf("source org: %w", err))
	}
	tgt, err := rc.Session(ctx, p.auth, params.Target)
	if err != nil {
		return r.fail(fmt.Errorf("target org: %w", err))
	}

	r.enter(StateResolving, LabelQuerying)
	links, err := p.resolver.Links(ctx, src, params.Names)
	if err != nil {
		return r.fail(err)
	}
	r.emit(Event{Kind: EventStage, State: StateResolving, Label: LabelDownloading})
	items, stats, err := p.resolver.Download(ctx, src, links, r.progress(LabelDownloading))
	r.result.Resolve = stats
	if err != nil {
		return r.fail(err)
	}
	r.result.Items = items

	r.enter(StateMapping, LabelMapping)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.SourceRecordID
	}
	targets, err := p.mapper.Map(ctx, src, tgt, ids)
	if err != nil {
		return r.fail(err)
	}
	r.result.Targets = targets

	r.enter(StateTransferring, LabelUploading)
	report := p.transfer.Transfer(ctx, tgt, items, targets, r.progress(LabelUploading))
	r.result.Report = report

	if p.ledger != nil {
		if err := p.ledger.SaveItems(r.result.RunID, items, report.Outcomes); err != nil {
			p.log.Warn("ledger: save items", zap.Error(err))
		}
	}

	r.enter(StateArchiving, LabelArchiving)
	data, err := archive.Build(items, r.result.StartedAt)
	if err != nil {
		return r.fail(err)
	}
	r.result.Archive = data

	for _, failure := range report.Failed {
		if failure.Kind == models.FailureConnectivity {
			return r.fail(fmt.Errorf("target org: %w", failure.Err))
		}
	}
	if report.HasFailures() {
		return r.finish(StatePartiallyFailed)
	}
	return r.finish(StateDone)
}

// Templates lists the template record names of the source org, using the
// listing cached in rc when there is one.
func (p *Pipeline) Templates(ctx context.Context, rc *RunContext, creds salesforce.Credentials) ([]string, error) {
	return rc.TemplateNames(ctx, p.auth, creds, p.resolver.records)
}
