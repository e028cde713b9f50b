// Package scheduler runs the nightly counter reconciliation job. The
// lifecycle manager keeps counters in step during normal operation; this
// job repairs whatever drift slips through (crashed compensating writes,
// manual database edits).
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/logging"
	"github.com/civicgrid/civic-issues-api/models"
)

const reconcileTimeout = 5 * time.Minute

// Scheduler handles the periodic background jobs
type Scheduler struct {
	cron *cron.Cron
	RDB  databases.ReportDatabase
	UDB  databases.UserDatabase
	log  *zap.SugaredLogger
}

// New creates a new scheduler instance
func New(rdb databases.ReportDatabase, udb databases.UserDatabase) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		RDB:  rdb,
		UDB:  udb,
		log:  logging.New(),
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	_, err := s.cron.AddFunc("@daily", s.ReconcileCounters)
	if err != nil {
		s.log.Errorw("failed to register reconciliation job", "error", err)
		return
	}
	s.cron.Start()
	s.log.Info("counter reconciliation scheduled daily")
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

type statusTally struct {
	ID struct {
		Owner  string        `bson:"owner"`
		Status models.Status `bson:"status"`
	} `bson:"_id"`
	Count int64 `bson:"count"`
}

// ReconcileCounters recomputes every user's counters from the true
// distribution of report statuses and rewrites the ones that drifted.
func (s *Scheduler) ReconcileCounters() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	pipeline := []bson.M{
		{"$group": bson.M{
			"_id":   bson.M{"owner": "$ownerId", "status": "$status"},
			"count": bson.M{"$sum": 1},
		}},
	}
	cursor, err := s.RDB.Aggregate(ctx, pipeline)
	if err != nil {
		s.log.Errorw("reconciliation aggregate failed", "error", err)
		return
	}
	var tallies []statusTally
	if err := cursor.Decode(&tallies); err != nil {
		s.log.Errorw("reconciliation decode failed", "error", err)
		return
	}

	computed := map[string]models.ReportCounters{}
	for _, t := range tallies {
		c := computed[t.ID.Owner]
		switch t.ID.Status {
		case models.StatusIssued:
			c.Issued = t.Count
		case models.StatusInReview:
			c.InReview = t.Count
		case models.StatusClosed:
			c.Closed = t.Count
		default:
			s.log.Warnw("report with status outside the vocabulary",
				"ownerId", t.ID.Owner,
				"status", string(t.ID.Status),
			)
		}
		computed[t.ID.Owner] = c
	}

	users, err := s.UDB.Find(ctx, bson.D{})
	if err != nil {
		s.log.Errorw("reconciliation user scan failed", "error", err)
		return
	}

	repaired := 0
	for _, user := range users {
		want := computed[user.ID]
		if user.Details.Reports == want {
			continue
		}
		s.log.Warnw("counter desync repaired",
			"userId", user.ID,
			"stored", user.Details.Reports,
			"computed", want,
		)
		if _, err := s.UDB.UpdateOne(ctx, bson.M{"_id": user.ID},
			bson.M{"$set": bson.M{"user.reports": want}}); err != nil {
			s.log.Errorw("reconciliation write failed",
				"userId", user.ID,
				"error", err,
			)
			continue
		}
		repaired++
	}
	s.log.Infow("counter reconciliation finished",
		"users", len(users),
		"repaired", repaired,
	)
}
