package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/eventlog"
	"github.com/storefront-labs/pricelab/internal/policy"
	"github.com/storefront-labs/pricelab/pkg/otel"
)

// startedRecord decodes a started payload. auto_apply is optional for
// records written by older producers and then means true.
type startedRecord struct {
	api.StartedPayload
	AutoApply *bool `json:"auto_apply"`
}

func decodeStarted(r eventlog.Record) (api.StartedPayload, bool) {
	var sr startedRecord
	if err := r.Decode(&sr); err != nil || sr.ExperimentID == "" {
		return api.StartedPayload{}, false
	}

	p := sr.StartedPayload
	p.AutoApply = sr.AutoApply == nil || *sr.AutoApply
	if p.StartedAt == "" {
		p.StartedAt = api.FormatTime(r.CreatedAt)
	}
	return p, true
}

func decodeStopped(r eventlog.Record) (api.StoppedPayload, bool) {
	var p api.StoppedPayload
	if err := r.Decode(&p); err != nil || p.ExperimentID == "" {
		return api.StoppedPayload{}, false
	}
	if p.StoppedAt == "" {
		p.StoppedAt = api.FormatTime(r.CreatedAt)
	}
	return p, true
}

func buildExperiment(started api.StartedPayload, stopped *api.StoppedPayload) api.Experiment {
	exp := api.Experiment{
		ID:           started.ExperimentID,
		Name:         started.Name,
		Status:       api.StatusRunning,
		StartedAt:    started.StartedAt,
		AutoApply:    started.AutoApply,
		AppliedCount: started.AppliedCount,
		Guardrails:   started.Guardrails,
		Assignments:  started.Assignments,
		PolicyHash:   started.PolicyHash,
	}
	if exp.Assignments == nil {
		exp.Assignments = []api.Assignment{}
	}
	if stopped != nil {
		at := stopped.StoppedAt
		exp.Status = api.StatusStopped
		exp.StoppedAt = &at
	}
	return exp
}

// reconstruct finds experiment id in records (most recent first). The first
// started and the first stopped record for the id are authoritative.
// Records with undecodable payloads are ignored.
func reconstruct(records []eventlog.Record, id string) (api.Experiment, bool) {
	var started *api.StartedPayload
	var stopped *api.StoppedPayload

	for _, r := range records {
		switch r.Type {
		case api.EventExperimentStarted:
			if started != nil {
				continue
			}
			if p, ok := decodeStarted(r); ok && p.ExperimentID == id {
				started = &p
			}
		case api.EventExperimentStopped:
			if stopped != nil {
				continue
			}
			if p, ok := decodeStopped(r); ok && p.ExperimentID == id {
				stopped = &p
			}
		}
		if started != nil && stopped != nil {
			break
		}
	}

	if started == nil {
		return api.Experiment{}, false
	}
	return buildExperiment(*started, stopped), true
}

// summarize builds up to limit summaries from records (most recent first)
func summarize(records []eventlog.Record, limit int) []api.ExperimentSummary {
	stops := make(map[string]string)
	for _, r := range records {
		if r.Type != api.EventExperimentStopped {
			continue
		}
		if p, ok := decodeStopped(r); ok {
			if _, seen := stops[p.ExperimentID]; !seen {
				stops[p.ExperimentID] = p.StoppedAt
			}
		}
	}

	out := make([]api.ExperimentSummary, 0, limit)
	seen := make(map[string]bool)
	for _, r := range records {
		if len(out) == limit {
			break
		}
		if r.Type != api.EventExperimentStarted {
			continue
		}
		p, ok := decodeStarted(r)
		if !ok || seen[p.ExperimentID] {
			continue
		}
		seen[p.ExperimentID] = true

		sum := api.ExperimentSummary{
			ID:               p.ExperimentID,
			Name:             p.Name,
			Status:           api.StatusRunning,
			StartedAt:        p.StartedAt,
			AssignmentCount:  len(p.Assignments),
			MeanDeltaPercent: meanDelta(p.Assignments),
		}
		if at, ok := stops[p.ExperimentID]; ok {
			sum.Status = api.StatusStopped
			sum.StoppedAt = &at
		}
		out = append(out, sum)
	}
	return out
}

func meanDelta(assignments []api.Assignment) float64 {
	if len(assignments) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range assignments {
		total += a.DeltaPercent
	}
	return api.Round2(total / float64(len(assignments)))
}

// NormalizeListLimit applies the default and the cap
func NormalizeListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// List returns the most recent experiments of the store
func (s *Service) List(ctx context.Context, storeID string, limit int) ([]api.ExperimentSummary, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.List", otel.ExperimentAttributes(storeID, "")...)
	defer span.End()

	limit = NormalizeListLimit(limit)
	records, err := s.log.Recent(ctx, storeID, eventTypes, listScanFactor*limit)
	if err != nil {
		otel.RecordError(span, err, "event log scan failed")
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}

	s.metrics.RecordsScanned.WithLabelValues(storeID, "list").Observe(float64(len(records)))
	span.SetAttributes(otel.ScanAttributes(len(records), false)...)

	return summarize(records, limit), nil
}

// Get reconstructs one experiment
func (s *Service) Get(ctx context.Context, storeID, id string) (api.Experiment, error) {
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.Get", otel.ExperimentAttributes(storeID, id)...)
	defer span.End()

	exp, err := s.get(ctx, storeID, id)
	if err != nil {
		otel.RecordError(span, err, "")
	}
	return exp, err
}

func (s *Service) get(ctx context.Context, storeID, id string) (api.Experiment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.Experiment{}, api.Validationf("experiment id is required")
	}

	if exp, ok := s.cache.Get(storeID, id); ok {
		s.metrics.CacheHits.WithLabelValues(storeID).Inc()
		return exp, nil
	}

	records, err := s.log.Recent(ctx, storeID, eventTypes, getScanLimit)
	if err != nil {
		return api.Experiment{}, fmt.Errorf("failed to scan event log: %w", err)
	}
	s.metrics.RecordsScanned.WithLabelValues(storeID, "get").Observe(float64(len(records)))

	exp, ok := reconstruct(records, id)
	if !ok {
		return api.Experiment{}, api.NotFoundf("experiment %s not found", id)
	}

	s.cache.Put(storeID, exp)
	return exp, nil
}

// Start proposes again, claims the experiment id, applies the prices (unless
// auto-apply is off) and records the started event
func (s *Service) Start(ctx context.Context, storeID string, req api.StartRequest) (api.StartResult, error) {
	id := strings.TrimSpace(req.ExperimentID)
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.Start", otel.ExperimentAttributes(storeID, id)...)
	defer span.End()

	res, err := s.start(ctx, storeID, id, req)
	if err != nil {
		otel.RecordError(span, err, "start failed")
		return api.StartResult{}, err
	}

	span.SetAttributes(otel.MutationAttributes(res.AssignmentCount, res.AppliedCount, 0)...)
	span.SetAttributes(otel.AttrAutoApply.Bool(res.AutoApply))
	return res, nil
}

func (s *Service) start(ctx context.Context, storeID, id string, req api.StartRequest) (api.StartResult, error) {
	if id == "" {
		return api.StartResult{}, api.Validationf("experiment_id is required")
	}

	_, err := s.get(ctx, storeID, id)
	switch {
	case err == nil:
		s.metrics.ReservationConflicts.WithLabelValues(storeID).Inc()
		return api.StartResult{}, api.Conflictf("experiment %s already exists", id)
	case !errors.Is(err, api.ErrNotFound):
		return api.StartResult{}, err
	}

	ok, err := s.reservations.Reserve(ctx, storeID, id, s.reservationTTL)
	if err != nil {
		return api.StartResult{}, fmt.Errorf("failed to reserve experiment id: %w", err)
	}
	if !ok {
		s.metrics.ReservationConflicts.WithLabelValues(storeID).Inc()
		return api.StartResult{}, api.Conflictf("experiment %s is already being started", id)
	}

	proposal, pol, err := s.propose(ctx, storeID, req.VariantIDs, req.Guardrails)
	if err == nil && len(proposal.Assignments) == 0 {
		err = api.Validationf("no eligible variants to start experiment %s", id)
	}
	var hash string
	if err == nil {
		hash, err = pol.Hash()
	}
	if err != nil {
		// nothing was mutated yet, so the id can be reused
		if rerr := s.reservations.Release(ctx, storeID, id); rerr != nil {
			s.logger.Warn("failed to release reservation", "store_id", storeID, "experiment_id", id, "error", rerr)
		}
		return api.StartResult{}, err
	}

	warnings := proposal.Warnings
	autoApply := req.ShouldAutoApply()
	if autoApply && pol.Enabled(policy.FlagManualApplyOnly) {
		autoApply = false
		warnings = append(warnings, "store policy requires manual apply; prices were not changed")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}
	startedAt := api.FormatTime(s.now())

	applied := 0
	if autoApply {
		applied, err = s.apply(ctx, storeID, proposal.Assignments)
		if err != nil {
			s.metrics.VariantsApplied.WithLabelValues(storeID).Add(float64(applied))
			return api.StartResult{}, fmt.Errorf("experiment %s not recorded, %d of %d prices already changed: %w",
				id, applied, len(proposal.Assignments), err)
		}
	}

	payload := api.StartedPayload{
		ExperimentID: id,
		Name:         name,
		StartedAt:    startedAt,
		AutoApply:    autoApply,
		AppliedCount: applied,
		Guardrails:   proposal.Guardrails,
		Assignments:  proposal.Assignments,
		PolicyHash:   hash,
	}
	if _, err := s.log.Append(ctx, storeID, api.EventExperimentStarted, payload); err != nil {
		s.logger.Error("started event not recorded after price changes",
			"store_id", storeID, "experiment_id", id, "applied", applied, "error", err)
		return api.StartResult{}, fmt.Errorf("failed to record start of experiment %s: %w", id, err)
	}
	s.cache.Invalidate(storeID, id)

	s.metrics.ExperimentsStarted.WithLabelValues(storeID).Inc()
	s.metrics.VariantsApplied.WithLabelValues(storeID).Add(float64(applied))
	s.metrics.Outcomes.RecordAssignments(storeID, proposal.Assignments)
	s.logger.Info("experiment started",
		"store_id", storeID,
		"experiment_id", id,
		"assignments", len(proposal.Assignments),
		"applied", applied,
		"auto_apply", autoApply)

	return api.StartResult{
		ExperimentID:    id,
		Name:            name,
		Status:          api.StatusRunning,
		StartedAt:       startedAt,
		AssignmentCount: len(proposal.Assignments),
		AppliedCount:    applied,
		AutoApply:       autoApply,
		Guardrails:      proposal.Guardrails,
		Assignments:     proposal.Assignments,
		Warnings:        warnings,
	}, nil
}

// Stop restores baseline prices and records the stopped event
func (s *Service) Stop(ctx context.Context, storeID, id string) (api.StopResult, error) {
	id = strings.TrimSpace(id)
	ctx, span := otel.StartSpan(ctx, tracerName, "experiment.Stop", otel.ExperimentAttributes(storeID, id)...)
	defer span.End()

	res, err := s.stop(ctx, storeID, id)
	if err != nil {
		otel.RecordError(span, err, "stop failed")
		return api.StopResult{}, err
	}

	span.SetAttributes(otel.AttrRestoredCount.Int(res.RestoredCount))
	return res, nil
}

func (s *Service) stop(ctx context.Context, storeID, id string) (api.StopResult, error) {
	exp, err := s.get(ctx, storeID, id)
	if err != nil {
		return api.StopResult{}, err
	}
	if exp.Status == api.StatusStopped {
		return api.StopResult{}, api.Validationf("experiment %s is already stopped", id)
	}

	restored := 0
	if exp.AutoApply {
		restored, err = s.restore(ctx, storeID, exp.Assignments)
		if err != nil {
			s.metrics.VariantsRestored.WithLabelValues(storeID).Add(float64(restored))
			return api.StopResult{}, fmt.Errorf("experiment %s still running, %d of %d prices restored: %w",
				id, restored, len(exp.Assignments), err)
		}
	}

	stoppedAt := api.FormatTime(s.now())
	payload := api.StoppedPayload{
		ExperimentID:  id,
		StoppedAt:     stoppedAt,
		RestoredCount: restored,
	}
	if _, err := s.log.Append(ctx, storeID, api.EventExperimentStopped, payload); err != nil {
		s.logger.Error("stopped event not recorded after price restore",
			"store_id", storeID, "experiment_id", id, "restored", restored, "error", err)
		return api.StopResult{}, fmt.Errorf("failed to record stop of experiment %s: %w", id, err)
	}
	s.cache.Invalidate(storeID, id)

	s.metrics.ExperimentsStopped.WithLabelValues(storeID).Inc()
	s.metrics.VariantsRestored.WithLabelValues(storeID).Add(float64(restored))
	s.logger.Info("experiment stopped",
		"store_id", storeID,
		"experiment_id", id,
		"restored", restored)

	return api.StopResult{
		OK:            true,
		ExperimentID:  id,
		StoppedAt:     stoppedAt,
		RestoredCount: restored,
	}, nil
}
