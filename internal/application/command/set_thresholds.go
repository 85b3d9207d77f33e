package command

import (
	"context"
	"errors"
	"strings"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET ACADEMY THRESHOLDS COMMAND
// Overrides the requirements of one belt for one academy. Zero fields inherit
// the catalog default.
// ══════════════════════════════════════════════════════════════════════════════

// SetThresholdsCommand contains the override of one belt.
type SetThresholdsCommand struct {
	AcademyID    string
	BeltCode     string
	ActorID      string
	Requirements belt.Requirements
}

// Validate validates the command.
func (c SetThresholdsCommand) Validate() error {
	if strings.TrimSpace(c.AcademyID) == "" {
		return errors.New("set_thresholds: academy_id is required")
	}
	if strings.TrimSpace(c.BeltCode) == "" {
		return errors.New("set_thresholds: belt is required")
	}
	if err := c.Requirements.Validate(); err != nil {
		return errors.New("set_thresholds: " + err.Error())
	}
	return nil
}

// SetThresholdsResult is the stored override and the requirements now in effect.
type SetThresholdsResult struct {
	AcademyID string            `json:"academy_id"`
	Belt      string            `json:"belt"`
	Override  belt.Requirements `json:"override"`
	Effective belt.Requirements `json:"effective"`
}

// CacheFlusher drops every cached eligibility result.
type CacheFlusher interface {
	InvalidateAll(ctx context.Context) error
}

// SetThresholdsHandler handles the SetThresholdsCommand.
type SetThresholdsHandler struct {
	catalog *belt.Registry
	policy  progression.Policy
	writer  progression.ThresholdWriter
	cache   CacheFlusher
	logger  *logger.Logger
}

// NewSetThresholdsHandler creates a new SetThresholdsHandler. cache may be nil.
func NewSetThresholdsHandler(
	catalog *belt.Registry,
	policy progression.Policy,
	writer progression.ThresholdWriter,
	cache CacheFlusher,
	log *logger.Logger,
) *SetThresholdsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SetThresholdsHandler{catalog: catalog, policy: policy, writer: writer, cache: cache, logger: log}
}

// Handle stores the override. Cached evaluations do not carry the academy
// thresholds in their key, so they are all dropped.
func (h *SetThresholdsHandler) Handle(ctx context.Context, cmd SetThresholdsCommand) (*SetThresholdsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "SetThresholds", shared.ErrValidation, err.Error(), nil)
	}

	def, err := h.catalog.Current().Find(cmd.BeltCode)
	if err != nil {
		return nil, err
	}

	if err := h.writer.SetAcademyRequirements(ctx, cmd.AcademyID, def.Code, cmd.Requirements); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.InvalidateAll(ctx); err != nil {
			// Entries still expire by TTL.
			h.logger.Warn("eligibility cache flush failed", logger.AcademyID(cmd.AcademyID), logger.Err(err))
		}
	}

	h.logger.Info("academy thresholds updated",
		logger.AcademyID(cmd.AcademyID),
		logger.BeltCode(def.Code),
		logger.Actor(cmd.ActorID),
	)
	return &SetThresholdsResult{
		AcademyID: cmd.AcademyID,
		Belt:      def.Code,
		Override:  cmd.Requirements,
		Effective: h.policy.Requirements(def, cmd.Requirements),
	}, nil
}
