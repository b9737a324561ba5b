// Package persistence implements the engine's one external boundary: the
// read/write contracts described for the persistence layer, plus the
// transport, retry, and circuit-breaking policy around them. The engine
// itself never talks to storage directly — it only ever sees the Store
// interface.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"github.com/dataparency-dev/territory-assign/internal/apperrors"
	"github.com/dataparency-dev/territory-assign/internal/audit"
	"github.com/dataparency-dev/territory-assign/internal/cascade"
	"github.com/dataparency-dev/territory-assign/pkg/model"
)

// Store is the contract the engine reads from and writes to. All
// implementations must honor write_proposals' transactional semantics:
// clear-then-bulk-insert, batched, with partial-failure above 10% fatal.
type Store interface {
	ReadAccounts(ctx context.Context, buildID string, cohort model.Cohort, tierFilter string) ([]model.Account, error)
	ReadReps(ctx context.Context, buildID string) ([]model.SalesRep, error)
	WriteProposals(ctx context.Context, buildID string, proposals []model.Proposal) error
	CascadeChildren(ctx context.Context, buildID string, children []cascade.ChildAssignment) error
	CascadeOpportunities(ctx context.Context, buildID string, opportunities []cascade.OpportunityAssignment) error
	AppendAudit(ctx context.Context, buildID string, entries []audit.Entry) error
}

// transientErrors is the closed set of error substrings the write path
// retries on, per the persistence boundary's retry contract.
var transientErrors = []string{"timeout", "connection", "statement_canceled", "too_many_requests"}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, t := range transientErrors {
		if containsFold(msg, t) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return nl == 0
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ─── NATS-backed Store ──────────────────────────────────────────────────────

// Subject names on the persistence boundary's request/reply NATS
// subject tree.
const (
	subjectReadAccounts         = "territory.persistence.read_accounts"
	subjectReadReps             = "territory.persistence.read_reps"
	subjectWriteProposals       = "territory.persistence.write_proposals"
	subjectCascadeChildren      = "territory.persistence.cascade_children"
	subjectCascadeOpportunities = "territory.persistence.cascade_opportunities"
	subjectAppendAudit          = "territory.persistence.append_audit"
)

// NatsStore talks to the persistence boundary over NATS request/reply,
// with an exponential-backoff retry policy on transient errors and a
// circuit breaker that opens after a run of failures to avoid hammering a
// degraded backend.
type NatsStore struct {
	conn          *nats.Conn
	requestTimeout time.Duration
	writeBatchSize int
	breaker       *gobreaker.CircuitBreaker
}

// NewNatsStore wraps an established NATS connection. writeBatchSize
// bounds write_proposals/cascade batch sizes (≤500 rows per request per
// the persistence contract).
func NewNatsStore(conn *nats.Conn, writeBatchSize int, requestTimeout time.Duration) *NatsStore {
	if writeBatchSize <= 0 || writeBatchSize > 500 {
		writeBatchSize = 500
	}
	settings := gobreaker.Settings{
		Name:        "territory-assign-persistence",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &NatsStore{
		conn:           conn,
		requestTimeout: requestTimeout,
		writeBatchSize: writeBatchSize,
		breaker:        gobreaker.NewCircuitBreaker(settings),
	}
}

type readAccountsRequest struct {
	BuildID    string       `json:"build_id"`
	Cohort     model.Cohort `json:"cohort"`
	TierFilter string       `json:"tier_filter,omitempty"`
}

type readAccountsResponse struct {
	Accounts []model.Account `json:"accounts"`
	Error    string          `json:"error,omitempty"`
}

func (s *NatsStore) ReadAccounts(ctx context.Context, buildID string, cohort model.Cohort, tierFilter string) ([]model.Account, error) {
	var resp readAccountsResponse
	err := s.requestJSON(ctx, subjectReadAccounts, readAccountsRequest{BuildID: buildID, Cohort: cohort, TierFilter: tierFilter}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.New(apperrors.TypeWriteFailed, resp.Error)
	}
	return resp.Accounts, nil
}

type readRepsRequest struct {
	BuildID string `json:"build_id"`
}

type readRepsResponse struct {
	Reps  []model.SalesRep `json:"reps"`
	Error string           `json:"error,omitempty"`
}

func (s *NatsStore) ReadReps(ctx context.Context, buildID string) ([]model.SalesRep, error) {
	var resp readRepsResponse
	if err := s.requestJSON(ctx, subjectReadReps, readRepsRequest{BuildID: buildID}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperrors.New(apperrors.TypeWriteFailed, resp.Error)
	}
	return resp.Reps, nil
}

type writeProposalsRequest struct {
	BuildID   string           `json:"build_id"`
	Proposals []model.Proposal `json:"proposals"`
	Clear     bool             `json:"clear_prior"`
}

type writeAckResponse struct {
	FailedRows int    `json:"failed_rows"`
	Error      string `json:"error,omitempty"`
}

func (s *NatsStore) WriteProposals(ctx context.Context, buildID string, proposals []model.Proposal) error {
	batches := batch(proposals, s.writeBatchSize)
	totalRows := len(proposals)
	var failedRows int

	for i, b := range batches {
		var resp writeAckResponse
		err := s.retryTransient(ctx, func() error {
			return s.requestJSON(ctx, subjectWriteProposals, writeProposalsRequest{BuildID: buildID, Proposals: b, Clear: i == 0}, &resp)
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeWriteFailed, "write_proposals failed after retries")
		}
		if resp.Error != "" {
			return apperrors.New(apperrors.TypeWriteFailed, resp.Error)
		}
		failedRows += resp.FailedRows
	}

	if totalRows > 0 && float64(failedRows)/float64(totalRows) > 0.10 {
		return apperrors.Newf(apperrors.TypeWriteFailed, "%d of %d proposal rows failed to write (%.1f%%)", failedRows, totalRows, 100*float64(failedRows)/float64(totalRows))
	}
	return nil
}

type cascadeChildrenRequest struct {
	BuildID  string                     `json:"build_id"`
	Children []cascade.ChildAssignment  `json:"children"`
}

func (s *NatsStore) CascadeChildren(ctx context.Context, buildID string, children []cascade.ChildAssignment) error {
	for _, b := range batchGeneric(children, s.writeBatchSize) {
		var resp writeAckResponse
		err := s.retryTransient(ctx, func() error {
			return s.requestJSON(ctx, subjectCascadeChildren, cascadeChildrenRequest{BuildID: buildID, Children: b}, &resp)
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeWriteFailed, "cascade_children failed after retries")
		}
		if resp.Error != "" {
			return apperrors.New(apperrors.TypeWriteFailed, resp.Error)
		}
	}
	return nil
}

type cascadeOpportunitiesRequest struct {
	BuildID       string                          `json:"build_id"`
	Opportunities []cascade.OpportunityAssignment `json:"opportunities"`
}

func (s *NatsStore) CascadeOpportunities(ctx context.Context, buildID string, opportunities []cascade.OpportunityAssignment) error {
	for _, b := range batchGeneric(opportunities, s.writeBatchSize) {
		var resp writeAckResponse
		err := s.retryTransient(ctx, func() error {
			return s.requestJSON(ctx, subjectCascadeOpportunities, cascadeOpportunitiesRequest{BuildID: buildID, Opportunities: b}, &resp)
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeWriteFailed, "cascade_opportunities failed after retries")
		}
		if resp.Error != "" {
			return apperrors.New(apperrors.TypeWriteFailed, resp.Error)
		}
	}
	return nil
}

type appendAuditRequest struct {
	BuildID string        `json:"build_id"`
	Entries []audit.Entry `json:"entries"`
}

func (s *NatsStore) AppendAudit(ctx context.Context, buildID string, entries []audit.Entry) error {
	var resp writeAckResponse
	err := s.retryTransient(ctx, func() error {
		return s.requestJSON(ctx, subjectAppendAudit, appendAuditRequest{BuildID: buildID, Entries: entries}, &resp)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeWriteFailed, "append_audit failed after retries")
	}
	if resp.Error != "" {
		return apperrors.New(apperrors.TypeWriteFailed, resp.Error)
	}
	return nil
}

// requestJSON performs one NATS request/reply round trip through the
// circuit breaker, marshaling req and unmarshaling the reply into resp.
func (s *NatsStore) requestJSON(ctx context.Context, subject string, req any, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", subject, err)
	}

	msg, err := s.breaker.Execute(func() (any, error) {
		return s.conn.RequestWithContext(ctx, subject, payload)
	})
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	natsMsg := msg.(*nats.Msg)
	if err := json.Unmarshal(natsMsg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal reply from %s: %w", subject, err)
	}
	return nil
}

// retryTransient retries op with exponential backoff, but only for errors
// matching the persistence boundary's transient-error set.
func (s *NatsStore) retryTransient(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if isTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithMaxTries(5), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}

func batch(proposals []model.Proposal, size int) [][]model.Proposal {
	var out [][]model.Proposal
	for i := 0; i < len(proposals); i += size {
		end := i + size
		if end > len(proposals) {
			end = len(proposals)
		}
		out = append(out, proposals[i:end])
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func batchGeneric[T any](items []T, size int) [][]T {
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	if len(out) == 0 {
		return out
	}
	return out
}
