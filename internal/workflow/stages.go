package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dopamas/querygate/internal/intent"
	"github.com/dopamas/querygate/internal/sanitize"
	"github.com/dopamas/querygate/internal/store"
	"github.com/dopamas/querygate/internal/validator"
)

const (
	clarificationText = "Could you tell me a bit more about what you are looking for? " +
		"For example, name a person, place, case number or date range."
	helpText = "I can look up records and statistics in the case databases. " +
		"Try asking something like \"show persons from Telangana\" or \"how many crimes were registered in 2023\"."
	generationText = "I could not turn that question into a database query. " +
		"Try rephrasing it or naming the records you are looking for."
)

// checkInput validates the session id and cleans the message.
func (o *Orchestrator) checkInput(_ context.Context, s *RequestState) {
	if s.SessionID != "" && !ValidSessionID(s.SessionID) {
		s.finish(inputFailure("Session id must be 8 to 64 letters, digits, hyphens or underscores."))
		return
	}
	msg, err := SanitizeInput(s.Raw, o.limits.MaxInputLength)
	if err != nil {
		s.finish(inputFailure(err.Error()))
		return
	}
	s.Message = msg
}

func inputFailure(reason string) *Response {
	return &Response{Text: reason, ErrorKind: KindInput}
}

func (o *Orchestrator) detectIntent(_ context.Context, s *RequestState) {
	s.Intent = intent.Classify(s.Message)
	s.Entities = o.detector.Detect(s.Message)
	if s.Entities == nil {
		s.Entities = intent.Entities{}
	}
	if s.Intent == intent.Clarification {
		s.finish(&Response{Text: clarificationText, Success: true})
	}
}

func (o *Orchestrator) selectTarget(_ context.Context, s *RequestState) {
	s.Target = o.selector.Select(s.Message)
}

// reduceSchema loads the snapshot, decides which targeted stores can be
// queried and reduces the schema to the containers the question mentions.
func (o *Orchestrator) reduceSchema(ctx context.Context, s *RequestState) {
	full, err := o.loadSchema(ctx)
	if err != nil {
		o.logger.Warn("schema unavailable", "error", sanitize.Mask(err.Error()))
		s.finish(executionFailure(sanitize.Sanitize(err)))
		return
	}
	s.Full = full

	if s.Target.Relational() && o.relational != nil {
		r := &storeRun{Dialect: validator.DialectRelational}
		if len(full.Tables) == 0 {
			r.Status = StatusUnavailable
		}
		s.Runs = append(s.Runs, r)
	}
	if s.Target.Document() && o.document != nil {
		r := &storeRun{Dialect: validator.DialectDocument}
		if len(full.Collections) == 0 {
			r.Status = StatusUnavailable
		}
		s.Runs = append(s.Runs, r)
	}
	if len(s.pending()) == 0 {
		s.finish(executionFailure(sanitize.Sanitize(fmt.Errorf("no usable store for target %s: %w", s.Target, store.ErrUnavailable))))
		return
	}

	if s.Intent == intent.General && s.Entities.Empty() && !o.reducer.Relevant(full, s.Message, s.Entities) {
		s.finish(&Response{Text: helpText, Success: true})
		return
	}
	s.Reduced = o.reducer.Reduce(full, s.Message, s.Entities)
}

// generate asks for one query per usable store. A store whose generation
// fails or times out is skipped.
func (o *Orchestrator) generate(ctx context.Context, s *RequestState) {
	if o.generator == nil {
		for _, r := range s.pending() {
			r.Status = StatusSkipped
		}
	} else {
		var g guardedGroup
		for _, r := range s.pending() {
			g.Go(func() {
				q, err := o.generator.Generate(ctx, r.Dialect, s.Reduced, s.Message)
				if err != nil {
					o.logger.Warn("query generation failed", "dialect", r.Dialect, "error", sanitize.Mask(err.Error()))
					r.Status = StatusSkipped
					return
				}
				r.Query = q
			})
		}
		g.Wait()
	}

	if err := ctx.Err(); err != nil {
		o.expire(s, err)
		return
	}
	if len(s.pending()) == 0 {
		resp := &Response{Text: generationText, ErrorKind: KindGeneration}
		resp.Stores = outcomes(s.Runs, 0)
		s.finish(resp)
	}
}

// validate screens every generated query. One blocked query stops execution
// for every store in the request.
func (o *Orchestrator) validate(ctx context.Context, s *RequestState) {
	var blocked *storeRun
	for _, r := range s.pending() {
		var res validator.Result
		if r.Dialect == validator.DialectDocument {
			r.Document, res = o.validator.PrepareDocument(r.Query)
		} else {
			res = o.validator.Validate(r.Query, r.Dialect)
		}
		r.Verdict = &res
		o.logger.Debug("validated query", "dialect", r.Dialect, "query", r.Query, "level", res.Level)
		if o.audit != nil {
			if err := o.audit.RecordVerdict(ctx, s.SessionID, r.Dialect, r.Query, res); err != nil {
				o.logger.Warn("audit write failed", "error", err)
			}
		}

		switch {
		case !res.Safe():
			r.Status = StatusBlocked
			o.logger.Info("query blocked", "dialect", r.Dialect, "level", res.Level, "threats", res.Threats)
			if blocked == nil {
				blocked = r
			}
		case res.Level > validator.LevelNone:
			o.logger.Warn("query flagged", "dialect", r.Dialect, "threats", res.Threats)
		}
	}
	if blocked == nil {
		return
	}

	for _, r := range s.pending() {
		r.Status = StatusSkipped
	}
	threat, _ := blocked.Verdict.Primary()
	resp := &Response{
		Text: fmt.Sprintf("I can't run that request because the generated query was blocked for safety: %s (%s).",
			threat.Describe(), threat),
		ErrorKind: KindBlocked,
	}
	resp.Stores = outcomes(s.Runs, 0)
	s.finish(resp)
}

// execute runs every safe query concurrently under the row cap.
func (o *Orchestrator) execute(ctx context.Context, s *RequestState) {
	if err := ctx.Err(); err != nil {
		o.expire(s, err)
		return
	}
	var g guardedGroup
	for _, r := range s.pending() {
		g.Go(func() { o.executeOne(ctx, s, r) })
	}
	g.Wait()
}

// guardedGroup runs per-store work concurrently and re-raises the first
// panic on the waiting goroutine, where the stage guard can recover it.
type guardedGroup struct {
	g        errgroup.Group
	mu       sync.Mutex
	panicked any
}

func (gg *guardedGroup) Go(fn func()) {
	gg.g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				gg.mu.Lock()
				if gg.panicked == nil {
					gg.panicked = r
				}
				gg.mu.Unlock()
			}
		}()
		fn()
		return nil
	})
}

func (gg *guardedGroup) Wait() {
	_ = gg.g.Wait()
	if gg.panicked != nil {
		panic(gg.panicked)
	}
}

func (o *Orchestrator) executeOne(ctx context.Context, s *RequestState, r *storeRun) {
	switch r.Dialect {
	case validator.DialectRelational:
		r.Query = validator.EnforceRowCap(r.Query, o.limits.MaxRows)
		r.Verified = relationalVerified(s.Full, r.Query)
	case validator.DialectDocument:
		r.Document.CapRows(int64(o.limits.MaxRows))
		r.Query = r.Document.String()
		r.Verified = documentVerified(s.Full, r.Document)
	}
	r.cacheKey = string(r.Dialect) + ":" + r.Query

	if s.Intent == intent.Retrieval {
		var cached store.Result
		if o.cache.GetResult(ctx, r.cacheKey, &cached) {
			r.Result = &cached
			r.Cached = true
			r.Status = StatusOK
			return
		}
	}

	var (
		res *store.Result
		err error
	)
	if r.Dialect == validator.DialectRelational {
		res, err = o.relational.Execute(ctx, r.Query, o.limits.MaxRows, o.limits.QueryTimeout)
	} else {
		res, err = o.document.Execute(ctx, r.Document, o.limits.MaxRows, o.limits.QueryTimeout)
	}
	if err != nil {
		f := sanitize.Sanitize(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f = sanitize.Sanitize(ctx.Err())
		}
		o.logger.Warn("query execution failed", "dialect", r.Dialect, "category", f.Category, "error", sanitize.Mask(err.Error()))
		r.Failure = &f
		r.Status = StatusFailed
		return
	}
	if res == nil {
		res = &store.Result{}
	}
	r.Result = res
	r.Status = StatusOK
}

// format merges per-store results into one response. The request fails
// only when no store succeeded.
func (o *Orchestrator) format(_ context.Context, s *RequestState) {
	var ok []*storeRun
	var firstFailure *sanitize.Failure
	for _, r := range s.Runs {
		switch r.Status {
		case StatusOK:
			ok = append(ok, r)
		case StatusFailed:
			if firstFailure == nil {
				firstFailure = r.Failure
			}
		}
	}

	if len(ok) == 0 {
		f := sanitize.Failure{Category: sanitize.CategoryUnknown, Message: sanitize.CategoryUnknown.Message()}
		if firstFailure != nil {
			f = *firstFailure
		}
		resp := executionFailure(f)
		resp.Stores = outcomes(s.Runs, o.limits.MaxRows)
		resp.Queries = queries(s.Runs)
		s.Response = resp
		return
	}

	s.Response = &Response{
		Text:    formatText(s.Runs, len(s.executed()) > 1, o.limits.PreviewRows, o.limits.MaxRows),
		Success: true,
		Queries: queries(s.Runs),
		Stores:  outcomes(s.Runs, o.limits.MaxRows),
	}
}

// record writes history and cacheable results after a successful request.
func (o *Orchestrator) record(ctx context.Context, s *RequestState) {
	if s.Response == nil || !s.Response.Success {
		return
	}
	if s.SessionID != "" {
		o.cache.AppendHistory(ctx, s.SessionID, s.Message, s.Response.Text)
	}
	if s.Intent != intent.Retrieval {
		return
	}
	for _, r := range s.Runs {
		if r.Status == StatusOK && !r.Cached && r.cacheKey != "" {
			o.cache.PutResult(ctx, r.cacheKey, r.Result)
		}
	}
}

// expire ends a request whose overall budget ran out before execution.
func (o *Orchestrator) expire(s *RequestState, err error) {
	for _, r := range s.pending() {
		r.Status = StatusSkipped
	}
	o.logger.Warn("request budget exhausted", "error", err)
	resp := executionFailure(sanitize.Sanitize(err))
	resp.Stores = outcomes(s.Runs, 0)
	s.finish(resp)
}

func executionFailure(f sanitize.Failure) *Response {
	return &Response{Text: f.Message, ErrorKind: KindExecution, ErrorCategory: f.Category}
}

// pending returns the runs that have not yet reached a final status.
func (s *RequestState) pending() []*storeRun {
	var out []*storeRun
	for _, r := range s.Runs {
		if r.Status == "" {
			out = append(out, r)
		}
	}
	return out
}

// executed returns the runs that reached a store, successfully or not.
func (s *RequestState) executed() []*storeRun {
	var out []*storeRun
	for _, r := range s.Runs {
		if r.Status == StatusOK || r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

func queries(runs []*storeRun) map[string]string {
	out := map[string]string{}
	for _, r := range runs {
		if r.Query != "" && r.Status != StatusBlocked {
			out[string(r.Dialect)] = r.Query
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func outcomes(runs []*storeRun, maxRecords int) []StoreOutcome {
	out := make([]StoreOutcome, 0, len(runs))
	for _, r := range runs {
		oc := StoreOutcome{
			Dialect:  r.Dialect,
			Status:   r.Status,
			Verified: r.Verified,
			Cached:   r.Cached,
			Error:    r.Failure,
		}
		if r.Status != StatusBlocked {
			oc.Query = r.Query
		}
		if r.Verdict != nil {
			oc.Threats = r.Verdict.Threats
		}
		if r.Result != nil {
			oc.RowCount = r.Result.Count()
			oc.Truncated = r.Result.Truncated
			oc.Columns = r.Result.Columns
			oc.Records = r.Result.Records
			if maxRecords > 0 && len(oc.Records) > maxRecords {
				oc.Records = oc.Records[:maxRecords]
			}
		}
		out = append(out, oc)
	}
	return out
}

func label(d validator.Dialect) string {
	if d == validator.DialectDocument {
		return "MongoDB"
	}
	return "PostgreSQL"
}
