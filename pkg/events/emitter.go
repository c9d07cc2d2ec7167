// Package events handles event emission for account lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/kafka"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Emitter publishes account lifecycle events after storage has committed.
// Emission failures are logged and surfaced but never roll back a merge.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitAccountMerged emits an account merged event carrying the full result
func (e *Emitter) EmitAccountMerged(ctx context.Context, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAccountMerged")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version":        SchemaVersion,
		"idempotency_key":       result.IdempotencyKey,
		"relationships_moved":   result.RelationshipsMoved,
		"relationships_deduped": result.RelationshipsDeduped,
		"accounts_removed":      result.AccountsRemoved,
	})

	event := &kafka.AccountEvent{
		EventType:      string(EventTypeAccountMerged),
		AccountID:      result.PrimaryID,
		MergedAccounts: result.MergedAccountIDs,
		Data:           data,
	}

	if err := e.producer.PublishAccountEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit account.merged event")
		return err
	}

	return nil
}

// EmitAccountsDeleted emits an account deleted event per consumed secondary
func (e *Emitter) EmitAccountsDeleted(ctx context.Context, accountIDs []string, survivorID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAccountsDeleted")
	defer span.End()

	batch := make([]*kafka.AccountEvent, 0, len(accountIDs))
	for _, id := range accountIDs {
		data, _ := json.Marshal(map[string]any{
			"schema_version": SchemaVersion,
			"survivor_id":    survivorID,
			"reason":         "merged",
		})
		batch = append(batch, &kafka.AccountEvent{
			EventType: string(EventTypeAccountDeleted),
			AccountID: id,
			Data:      data,
		})
	}

	if err := e.producer.PublishAccountEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit account.deleted events")
		return err
	}

	return nil
}

// EmitClustersRefreshed emits a signal that the duplicate registry rebuilt
func (e *Emitter) EmitClustersRefreshed(ctx context.Context, clusterCount int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitClustersRefreshed")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"cluster_count":  clusterCount,
	})

	event := &kafka.AccountEvent{
		EventType: string(EventTypeClustersRefreshed),
		AccountID: "registry",
		Data:      data,
	}

	if err := e.producer.PublishAccountEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit clusters.refreshed event")
		return err
	}

	return nil
}
