package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BULK DECIDE COMMAND
// Applies one decision to many requests. Each request goes through the same
// path as a single decision; one failure does not affect the others.
// ══════════════════════════════════════════════════════════════════════════════

// MaxBulkDecisions bounds the requests decided by one command.
const MaxBulkDecisions = 100

const bulkDecideConcurrency = 4

// BulkDecideCommand decides every listed request the same way.
type BulkDecideCommand struct {
	RequestIDs []string
	ActorID    string
	Decision   progression.Decision
	Note       string
}

// Validate validates the command.
func (c BulkDecideCommand) Validate() error {
	if len(c.RequestIDs) == 0 {
		return errors.New("bulk_decide: request_ids is required")
	}
	if len(c.RequestIDs) > MaxBulkDecisions {
		return fmt.Errorf("bulk_decide: at most %d requests per call", MaxBulkDecisions)
	}
	for i, id := range c.RequestIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("bulk_decide: request_ids[%d] is empty", i)
		}
	}
	if strings.TrimSpace(c.ActorID) == "" {
		return errors.New("bulk_decide: actor_id is required")
	}
	if c.Decision != progression.DecisionApprove && c.Decision != progression.DecisionReject {
		return fmt.Errorf("bulk_decide: unknown decision %q", c.Decision)
	}
	return nil
}

// BulkDecideItem is the outcome for one request. Err is nil on success.
type BulkDecideItem struct {
	RequestID string
	Result    *DecideRequestResult
	Err       error
}

// BulkDecideResult lists the items in the order of the command.
type BulkDecideResult struct {
	Items     []BulkDecideItem
	Succeeded int
	Failed    int
}

// BulkDecideHandler handles the BulkDecideCommand.
type BulkDecideHandler struct {
	decide *DecideRequestHandler
}

// NewBulkDecideHandler creates a new BulkDecideHandler.
func NewBulkDecideHandler(decide *DecideRequestHandler) *BulkDecideHandler {
	return &BulkDecideHandler{decide: decide}
}

// Handle decides each distinct request. It only fails as a whole for an
// invalid command; per-request errors are reported in the items.
func (h *BulkDecideHandler) Handle(ctx context.Context, cmd BulkDecideCommand) (*BulkDecideResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "BulkDecide", shared.ErrValidation, err.Error(), nil)
	}

	ids := make([]string, 0, len(cmd.RequestIDs))
	seen := make(map[string]bool, len(cmd.RequestIDs))
	for _, id := range cmd.RequestIDs {
		id = strings.TrimSpace(id)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	items := make([]BulkDecideItem, len(ids))
	var g errgroup.Group
	g.SetLimit(bulkDecideConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := h.decide.Handle(ctx, DecideRequestCommand{
				RequestID: id,
				ActorID:   cmd.ActorID,
				Decision:  cmd.Decision,
				Note:      cmd.Note,
			})
			items[i] = BulkDecideItem{RequestID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkDecideResult{Items: items}
	for _, it := range items {
		if it.Err != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	return out, nil
}
