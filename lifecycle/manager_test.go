package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/models"
)

// fakeStore is an in-memory stand-in for the reports and users
// collections. It interprets only the filter and update shapes the
// manager actually issues.
type fakeStore struct {
	mu      sync.Mutex
	reports map[primitive.ObjectID]models.Report
	users   map[string]models.User

	// counterFailures makes the next N user-counter writes fail.
	counterFailures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reports: map[primitive.ObjectID]models.Report{},
		users:   map[string]models.User{},
	}
}

func (f *fakeStore) addUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = models.User{ID: id}
}

func (f *fakeStore) addReport(owner string, status models.Status) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	f.reports[id] = models.Report{ID: id, OwnerID: owner, Status: status}
	return id
}

func (f *fakeStore) counters(owner string) models.ReportCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[owner].Details.Reports
}

func (f *fakeStore) setCounters(owner string, c models.ReportCounters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[owner]
	u.Details.Reports = c
	f.users[owner] = u
}

func (f *fakeStore) reportCount(owner string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.reports {
		if r.OwnerID == owner {
			n++
		}
	}
	return n
}

type fakeReportDB struct{ s *fakeStore }

func (f fakeReportDB) FindOne(ctx context.Context, filter interface{}) (*models.Report, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id := filter.(bson.M)["_id"].(primitive.ObjectID)
	r, ok := f.s.reports[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return &r, nil
}

func (f fakeReportDB) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id := filter.(bson.M)["_id"].(primitive.ObjectID)
	r, ok := f.s.reports[id]
	if !ok {
		return 0, nil
	}
	set := update.(bson.M)["$set"].(bson.M)
	if v, ok := set["status"]; ok {
		r.Status = v.(models.Status)
	}
	if v, ok := set["actionNote"]; ok {
		r.ActionNote = v.(string)
	}
	f.s.reports[id] = r
	return 1, nil
}

func (f fakeReportDB) InsertOne(ctx context.Context, report models.Report, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.reports[report.ID] = report
	return nil, nil
}

func (f fakeReportDB) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id := filter.(bson.M)["_id"].(primitive.ObjectID)
	if _, ok := f.s.reports[id]; !ok {
		return 0, nil
	}
	delete(f.s.reports, id)
	return 1, nil
}

func (f fakeReportDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Report, error) {
	return nil, nil
}

func (f fakeReportDB) FindPage(ctx context.Context, filter interface{}, sort interface{}, limit, page int) ([]models.Report, error) {
	return nil, nil
}

func (f fakeReportDB) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return 0, nil
}

func (f fakeReportDB) Aggregate(ctx context.Context, pipeline interface{}) (databases.CursorHelper, error) {
	return nil, nil
}

type fakeUserDB struct{ s *fakeStore }

func (f fakeUserDB) FindOne(ctx context.Context, filter interface{}) (*models.User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id := filter.(bson.M)["_id"].(string)
	u, ok := f.s.users[id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return &u, nil
}

func (f fakeUserDB) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.counterFailures > 0 {
		f.s.counterFailures--
		return 0, fmt.Errorf("simulated storage outage")
	}
	id := filter.(bson.M)["_id"].(string)
	u, ok := f.s.users[id]
	if !ok {
		return 0, nil
	}
	if inc, ok := update.(bson.M)["$inc"].(bson.M); ok {
		for path, delta := range inc {
			d := delta.(int64)
			switch path {
			case "user.reports.issued":
				u.Details.Reports.Issued += d
			case "user.reports.inReview":
				u.Details.Reports.InReview += d
			case "user.reports.closed":
				u.Details.Reports.Closed += d
			default:
				return 0, fmt.Errorf("unexpected inc path %q", path)
			}
		}
	}
	f.s.users[id] = u
	return 1, nil
}

func (f fakeUserDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.User, error) {
	return nil, nil
}

func (f fakeUserDB) InsertOne(ctx context.Context, user models.User) (databases.InsertOneResultHelper, error) {
	return nil, nil
}

func (f fakeUserDB) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return 0, nil
}

func (f fakeUserDB) Aggregate(ctx context.Context, pipeline interface{}) (databases.CursorHelper, error) {
	return nil, nil
}

func newTestManager(s *fakeStore) *Manager {
	retryBackoff = time.Millisecond
	return NewManager(fakeReportDB{s: s}, fakeUserDB{s: s})
}

func assertInSync(t *testing.T, s *fakeStore, owner string) {
	t.Helper()
	assert.Equal(t, s.reportCount(owner), s.counters(owner).Total(),
		"sum of counters must equal the number of owned reports")
}

func TestManager_CreateReportIncrementsIssued(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	m := newTestManager(s)

	created, err := m.CreateReport(context.Background(), models.Report{OwnerID: "u1", Title: "pothole"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, created.Status)
	assert.False(t, created.ID.IsZero())

	assert.Equal(t, models.ReportCounters{Issued: 1}, s.counters("u1"))
	assertInSync(t, s, "u1")
}

func TestManager_CreateReportUnknownOwner(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(s)

	_, err := m.CreateReport(context.Background(), models.Report{OwnerID: "nobody"})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, s.reports)
}

func TestManager_TransitionScenarioWalk(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	m := newTestManager(s)

	created, err := m.CreateReport(context.Background(), models.Report{OwnerID: "u1", Title: "streetlight out"})
	require.NoError(t, err)
	assert.Equal(t, models.ReportCounters{Issued: 1}, s.counters("u1"))

	steps := []struct {
		label string
		want  models.ReportCounters
	}{
		{models.StatusInProgressLabel, models.ReportCounters{InReview: 1}},
		{models.StatusResolvedLabel, models.ReportCounters{Closed: 1}},
		{models.StatusPendingLabel, models.ReportCounters{Issued: 1}},
	}
	for _, step := range steps {
		updated, err := m.Transition(context.Background(), created.ID, step.label, "note for "+step.label)
		require.NoError(t, err)
		wantInternal, _ := models.ToInternal(step.label)
		assert.Equal(t, wantInternal, updated.Status)
		assert.Equal(t, step.want, s.counters("u1"))
		assertInSync(t, s, "u1")
	}
}

func TestManager_SelfTransitionOnlyUpdatesNote(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusInReview)
	s.setCounters("u1", models.ReportCounters{InReview: 1})
	m := newTestManager(s)

	updated, err := m.Transition(context.Background(), id, models.StatusInProgressLabel, "crew dispatched")
	require.NoError(t, err)
	assert.Equal(t, "crew dispatched", updated.ActionNote)
	assert.Equal(t, models.StatusInReview, updated.Status)
	assert.Equal(t, models.ReportCounters{InReview: 1}, s.counters("u1"))
}

func TestManager_DirectIssuedToClosed(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusIssued)
	s.setCounters("u1", models.ReportCounters{Issued: 1})
	m := newTestManager(s)

	_, err := m.Transition(context.Background(), id, models.StatusResolvedLabel, "filled")
	require.NoError(t, err)
	assert.Equal(t, models.ReportCounters{Issued: 0, InReview: 0, Closed: 1}, s.counters("u1"))
	assertInSync(t, s, "u1")
}

func TestManager_UnknownStatusRejectedBeforeAnyWrite(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusIssued)
	s.setCounters("u1", models.ReportCounters{Issued: 1})
	m := newTestManager(s)

	_, err := m.Transition(context.Background(), id, "Unknown", "note")
	var unknown models.ErrUnknownStatus
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Unknown", unknown.Value)

	// nothing mutated
	got, _ := fakeReportDB{s: s}.FindOne(context.Background(), bson.M{"_id": id})
	assert.Equal(t, models.StatusIssued, got.Status)
	assert.Empty(t, got.ActionNote)
	assert.Equal(t, models.ReportCounters{Issued: 1}, s.counters("u1"))
}

func TestManager_TransitionMissingReport(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(s)

	_, err := m.Transition(context.Background(), primitive.NewObjectID(), models.StatusResolvedLabel, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestManager_DesyncedCounterFlooredAtZero(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusIssued)
	// counters already desynced: issued should be 1 but reads 0
	s.setCounters("u1", models.ReportCounters{})
	m := newTestManager(s)

	updated, err := m.Transition(context.Background(), id, models.StatusResolvedLabel, "done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, updated.Status)
	// decrement skipped, increment applied, nothing below zero
	assert.Equal(t, models.ReportCounters{Issued: 0, InReview: 0, Closed: 1}, s.counters("u1"))
}

func TestManager_CounterWriteRetriesThenSucceeds(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusIssued)
	s.setCounters("u1", models.ReportCounters{Issued: 1})
	s.counterFailures = 2 // fewer than the retry limit
	m := newTestManager(s)

	_, err := m.Transition(context.Background(), id, models.StatusInProgressLabel, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReportCounters{InReview: 1}, s.counters("u1"))
}

func TestManager_PartialUpdateRollsBackReport(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusIssued)
	s.setCounters("u1", models.ReportCounters{Issued: 1})
	s.counterFailures = 100 // permanently down
	m := newTestManager(s)

	_, err := m.Transition(context.Background(), id, models.StatusResolvedLabel, "note")
	assert.ErrorIs(t, err, models.ErrPartialUpdate)

	// the report write was compensated
	got, _ := fakeReportDB{s: s}.FindOne(context.Background(), bson.M{"_id": id})
	assert.Equal(t, models.StatusIssued, got.Status)
	assert.Empty(t, got.ActionNote)
	assert.Equal(t, models.ReportCounters{Issued: 1}, s.counters("u1"))
	assertInSync(t, s, "u1")
}

func TestManager_CreateReportCompensatesOnCounterFailure(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	s.counterFailures = 100
	m := newTestManager(s)

	_, err := m.CreateReport(context.Background(), models.Report{OwnerID: "u1"})
	assert.ErrorIs(t, err, models.ErrPartialUpdate)
	assert.Empty(t, s.reports)
	assert.Equal(t, models.ReportCounters{}, s.counters("u1"))
}

func TestManager_DeleteReport(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	id := s.addReport("u1", models.StatusClosed)
	s.setCounters("u1", models.ReportCounters{Closed: 1})
	m := newTestManager(s)

	require.NoError(t, m.DeleteReport(context.Background(), id, "u1"))
	assert.Equal(t, models.ReportCounters{}, s.counters("u1"))
	assertInSync(t, s, "u1")
}

func TestManager_DeleteReportNotOwner(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	s.addUser("u2")
	id := s.addReport("u1", models.StatusIssued)
	s.setCounters("u1", models.ReportCounters{Issued: 1})
	m := newTestManager(s)

	err := m.DeleteReport(context.Background(), id, "u2")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, models.ReportCounters{Issued: 1}, s.counters("u1"))
	assertInSync(t, s, "u1")
}

// Concurrent transitions on distinct reports must land on the same final
// counters a sequential application would produce.
func TestManager_ConcurrentTransitionsStayConsistent(t *testing.T) {
	s := newFakeStore()
	const owners = 4
	const perOwner = 8

	var ids []primitive.ObjectID
	var ownerOf = map[primitive.ObjectID]string{}
	for i := 0; i < owners; i++ {
		owner := fmt.Sprintf("u%d", i)
		s.addUser(owner)
		for j := 0; j < perOwner; j++ {
			id := s.addReport(owner, models.StatusIssued)
			ids = append(ids, id)
			ownerOf[id] = owner
		}
		s.setCounters(owner, models.ReportCounters{Issued: perOwner})
	}
	m := newTestManager(s)

	var wg sync.WaitGroup
	errCh := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id primitive.ObjectID) {
			defer wg.Done()
			if _, err := m.Transition(context.Background(), id, models.StatusResolvedLabel, "swept"); err != nil {
				errCh <- err
			}
		}(id)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent transition failed: %v", err)
	}

	for i := 0; i < owners; i++ {
		owner := fmt.Sprintf("u%d", i)
		assert.Equal(t, models.ReportCounters{Closed: perOwner}, s.counters(owner))
		assertInSync(t, s, owner)
	}
}

func TestManager_StorageErrorSurfacedAsUnavailable(t *testing.T) {
	s := newFakeStore()
	s.addUser("u1")
	m := newTestManager(s)
	m.Users = failingUserDB{}

	_, err := m.CreateReport(context.Background(), models.Report{OwnerID: "u1"})
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

type failingUserDB struct{ fakeUserDB }

func (failingUserDB) FindOne(ctx context.Context, filter interface{}) (*models.User, error) {
	return nil, errors.New("connection refused")
}
