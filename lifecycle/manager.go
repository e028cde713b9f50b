// Package lifecycle owns every mutation of a report's status and of the
// owning user's per-status counters. Handlers never touch either directly;
// all writes funnel through the Manager so the counters cannot drift from
// the true distribution of report statuses.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// DefaultRetries bounds the counter-write retry loop.
const DefaultRetries = 3

// retryBackoff is the pause between counter-write attempts.
var retryBackoff = 50 * time.Millisecond

// Manager performs validated report status transitions and keeps the
// owning user's counters consistent with them.
type Manager struct {
	Reports databases.ReportDatabase
	Users   databases.UserDatabase
	Retries int

	locks *keyedMutex
}

// NewManager wires a Manager over the report and user databases.
func NewManager(reports databases.ReportDatabase, users databases.UserDatabase) *Manager {
	return &Manager{
		Reports: reports,
		Users:   users,
		Retries: DefaultRetries,
		locks:   newKeyedMutex(),
	}
}

func reportKey(id primitive.ObjectID) string { return "report:" + id.Hex() }
func ownerKey(ownerID string) string         { return "owner:" + ownerID }

// CreateReport inserts a new report in the initial status and increments
// the owner's issued counter. The two writes are treated as one logical
// transaction: if the counter write permanently fails, the inserted report
// is removed again and ErrPartialUpdate is returned.
func (m *Manager) CreateReport(ctx context.Context, report models.Report) (*models.Report, error) {
	if report.OwnerID == "" {
		return nil, fmt.Errorf("%w: report owner missing", models.ErrNotFound)
	}

	m.locks.Lock(ownerKey(report.OwnerID))
	defer m.locks.Unlock(ownerKey(report.OwnerID))

	if _, err := m.loadUser(ctx, report.OwnerID); err != nil {
		return nil, err
	}

	report.ID = primitive.NewObjectID()
	report.Status = models.StatusIssued
	report.CreatedAt = primitive.NewDateTimeFromTime(time.Now())

	if _, err := m.Reports.InsertOne(ctx, report); err != nil {
		return nil, fmt.Errorf("%w: insert report: %v", models.ErrStorageUnavailable, err)
	}

	// Past this point the operation is no longer cancellable, only
	// retryable; the counter write must not die with the request context.
	wctx := context.WithoutCancel(ctx)

	inc := bson.M{"$inc": bson.M{counterPath(models.StatusIssued): int64(1)}}
	if err := m.writeCounters(wctx, report.OwnerID, inc); err != nil {
		zap.S().Errorw("report insert succeeded but issued counter increment failed, removing report",
			"reportId", report.ID.Hex(),
			"ownerId", report.OwnerID,
			"error", err,
		)
		if _, derr := m.Reports.DeleteOne(wctx, bson.M{"_id": report.ID}); derr != nil {
			zap.S().Errorw("compensating report delete failed, manual reconciliation required",
				"reportId", report.ID.Hex(),
				"ownerId", report.OwnerID,
				"error", derr,
			)
		}
		return nil, fmt.Errorf("%w: issued counter increment: %v", models.ErrPartialUpdate, err)
	}

	return &report, nil
}

// Transition moves one report to newLabel (presentation vocabulary) and
// adjusts the owner's counters by the matching -1/+1 pair. A
// self-transition only rewrites the action note and leaves counters alone.
func (m *Manager) Transition(ctx context.Context, reportID primitive.ObjectID, newLabel, actionNote string) (*models.Report, error) {
	newInternal, err := models.ToInternal(newLabel)
	if err != nil {
		return nil, err
	}

	m.locks.Lock(reportKey(reportID))
	defer m.locks.Unlock(reportKey(reportID))

	report, err := m.loadReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	oldInternal := report.Status
	if !oldInternal.Valid() {
		// Stored status outside the vocabulary is a data-integrity fault,
		// never silently coerced.
		return nil, models.ErrUnknownStatus{Value: string(oldInternal)}
	}

	m.locks.Lock(ownerKey(report.OwnerID))
	defer m.locks.Unlock(ownerKey(report.OwnerID))

	if oldInternal == newInternal {
		matched, err := m.Reports.UpdateOne(ctx, bson.M{"_id": reportID},
			bson.M{"$set": bson.M{"actionNote": actionNote}})
		if err != nil {
			return nil, fmt.Errorf("%w: update action note: %v", models.ErrStorageUnavailable, err)
		}
		if matched == 0 {
			return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, reportID.Hex())
		}
		report.ActionNote = actionNote
		return report, nil
	}

	user, err := m.loadUser(ctx, report.OwnerID)
	if err != nil {
		return nil, err
	}

	// First write: the report record itself.
	matched, err := m.Reports.UpdateOne(ctx, bson.M{"_id": reportID},
		bson.M{"$set": bson.M{"status": newInternal, "actionNote": actionNote}})
	if err != nil {
		return nil, fmt.Errorf("%w: update report status: %v", models.ErrStorageUnavailable, err)
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, reportID.Hex())
	}

	// Second write: the counter pair. Not cancellable once begun.
	wctx := context.WithoutCancel(ctx)

	inc := bson.M{counterPath(newInternal): int64(1)}
	if user.Details.Reports.Get(oldInternal) > 0 {
		inc[counterPath(oldInternal)] = int64(-1)
	} else {
		// Desynchronized counters: decrementing below zero would make the
		// derived view even worse, so the decrement is skipped and the
		// transition proceeds.
		zap.S().Warnw("counter desync detected, skipping decrement",
			"ownerId", report.OwnerID,
			"reportId", reportID.Hex(),
			"status", string(oldInternal),
		)
	}

	if err := m.writeCounters(wctx, report.OwnerID, bson.M{"$inc": inc}); err != nil {
		zap.S().Errorw("report status write succeeded but counter write failed, rolling back report",
			"reportId", reportID.Hex(),
			"ownerId", report.OwnerID,
			"oldStatus", string(oldInternal),
			"newStatus", string(newInternal),
			"error", err,
		)
		if _, rerr := m.Reports.UpdateOne(wctx, bson.M{"_id": reportID},
			bson.M{"$set": bson.M{"status": oldInternal, "actionNote": report.ActionNote}}); rerr != nil {
			zap.S().Errorw("compensating report rollback failed, manual reconciliation required",
				"reportId", reportID.Hex(),
				"ownerId", report.OwnerID,
				"error", rerr,
			)
		}
		return nil, fmt.Errorf("%w: counter adjustment: %v", models.ErrPartialUpdate, err)
	}

	report.Status = newInternal
	report.ActionNote = actionNote
	return report, nil
}

// DeleteReport removes a report owned by callerID and decrements the
// counter for its current status. The deleted record is re-inserted if the
// counter write permanently fails.
func (m *Manager) DeleteReport(ctx context.Context, reportID primitive.ObjectID, callerID string) error {
	m.locks.Lock(reportKey(reportID))
	defer m.locks.Unlock(reportKey(reportID))

	report, err := m.loadReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report.OwnerID != callerID {
		return fmt.Errorf("%w: report %s is not owned by caller", models.ErrUnauthorized, reportID.Hex())
	}

	m.locks.Lock(ownerKey(report.OwnerID))
	defer m.locks.Unlock(ownerKey(report.OwnerID))

	user, err := m.loadUser(ctx, report.OwnerID)
	if err != nil {
		return err
	}

	deleted, err := m.Reports.DeleteOne(ctx, bson.M{"_id": reportID})
	if err != nil {
		return fmt.Errorf("%w: delete report: %v", models.ErrStorageUnavailable, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: report %s", models.ErrNotFound, reportID.Hex())
	}

	if user.Details.Reports.Get(report.Status) == 0 {
		zap.S().Warnw("counter desync detected, skipping decrement",
			"ownerId", report.OwnerID,
			"reportId", reportID.Hex(),
			"status", string(report.Status),
		)
		return nil
	}

	wctx := context.WithoutCancel(ctx)
	dec := bson.M{"$inc": bson.M{counterPath(report.Status): int64(-1)}}
	if err := m.writeCounters(wctx, report.OwnerID, dec); err != nil {
		zap.S().Errorw("report delete succeeded but counter decrement failed, re-inserting report",
			"reportId", reportID.Hex(),
			"ownerId", report.OwnerID,
			"error", err,
		)
		if _, rerr := m.Reports.InsertOne(wctx, *report); rerr != nil {
			zap.S().Errorw("compensating report re-insert failed, manual reconciliation required",
				"reportId", reportID.Hex(),
				"ownerId", report.OwnerID,
				"error", rerr,
			)
		}
		return fmt.Errorf("%w: counter decrement: %v", models.ErrPartialUpdate, err)
	}
	return nil
}

func (m *Manager) loadReport(ctx context.Context, reportID primitive.ObjectID) (*models.Report, error) {
	report, err := m.Reports.FindOne(ctx, bson.M{"_id": reportID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: report %s", models.ErrNotFound, reportID.Hex())
		}
		return nil, fmt.Errorf("%w: load report: %v", models.ErrStorageUnavailable, err)
	}
	return report, nil
}

func (m *Manager) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := m.Users.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("%w: load user: %v", models.ErrStorageUnavailable, err)
	}
	return user, nil
}

// writeCounters applies one counter update with a bounded retry loop.
func (m *Manager) writeCounters(ctx context.Context, ownerID string, update bson.M) error {
	retries := m.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		matched, err := m.Users.UpdateOne(ctx, bson.M{"_id": ownerID}, update)
		if err == nil {
			if matched == 0 {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, ownerID)
			}
			return nil
		}
		lastErr = err
		zap.S().Warnw("counter write failed, retrying",
			"ownerId", ownerID,
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(retryBackoff)
	}
	return lastErr
}

func counterPath(s models.Status) string {
	return "user.reports." + s.CounterField()
}
