package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/feed"
	"github.com/civicgrid/civic-issues-api/lifecycle"
	"github.com/civicgrid/civic-issues-api/models"
)

// Report handles report-related requests
type Report struct {
	RDB     databases.ReportDatabase
	Manager *lifecycle.Manager
	Live    *LiveFeed
}

type createReportRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Location    *models.Location `json:"location"`
	MediaRef    string           `json:"mediaRef"`
}

type statusUpdateRequest struct {
	Status     string `json:"status"`
	ActionNote string `json:"actionNote"`
}

// CreateReportHandler creates a new report owned by the authenticated
// citizen and increments their issued counter.
func (re Report) CreateReportHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing authenticated principal", http.StatusUnauthorized, w, models.ErrUnauthorized)
		return
	}

	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	report := models.Report{
		OwnerID:     principal.ID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		MediaRef:    req.MediaRef,
	}

	created, err := re.Manager.CreateReport(r.Context(), report)
	if err != nil {
		lifecycleErrorStatus("failed to create report", w, err)
		return
	}

	if re.Live != nil {
		re.Live.BroadcastReport(*created)
	}

	b, err := json.Marshal(created)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// ReportByIDHandler returns a report by ID
func (re Report) ReportByIDHandler(w http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["report_id"]

	zap.S().Debugf("report_id: %v", reportID)

	rID, err := primitive.ObjectIDFromHex(reportID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := re.RDB.FindOne(context.Background(), bson.M{"_id": rID})
	if err != nil {
		config.ErrorStatus("failed to get report by ID", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateReportHandler lets the owner edit the title, description and
// category of their own report. Status is untouchable here; it only moves
// through the lifecycle manager.
func (re Report) UpdateReportHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing authenticated principal", http.StatusUnauthorized, w, models.ErrUnauthorized)
		return
	}

	rID, err := primitive.ObjectIDFromHex(mux.Vars(r)["report_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	existing, err := re.RDB.FindOne(r.Context(), bson.M{"_id": rID})
	if err != nil {
		config.ErrorStatus("failed to get report by ID", http.StatusNotFound, w, err)
		return
	}
	if existing.OwnerID != principal.ID {
		config.ErrorStatus("only the report owner may edit it", http.StatusForbidden, w, models.ErrUnauthorized)
		return
	}

	update := bson.M{}
	if req.Title != "" {
		update["title"] = req.Title
	}
	if req.Description != "" {
		update["description"] = req.Description
	}
	if req.Category != "" {
		update["category"] = req.Category
	}
	if len(update) > 0 {
		if _, err := re.RDB.UpdateOne(r.Context(), bson.M{"_id": rID}, bson.M{"$set": update}); err != nil {
			config.ErrorStatus("failed to update report", http.StatusInternalServerError, w, err)
			return
		}
	}

	dbResp, err := re.RDB.FindOne(r.Context(), bson.M{"_id": rID})
	if err != nil {
		config.ErrorStatus("failed to get report by ID", http.StatusNotFound, w, err)
		return
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// DeleteReportHandler removes a report owned by the caller and keeps the
// counters in step.
func (re Report) DeleteReportHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.ErrorStatus("missing authenticated principal", http.StatusUnauthorized, w, models.ErrUnauthorized)
		return
	}

	rID, err := primitive.ObjectIDFromHex(mux.Vars(r)["report_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	if err := re.Manager.DeleteReport(r.Context(), rID, principal.ID); err != nil {
		lifecycleErrorStatus("failed to delete report", w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message": "report deleted"}`))
}

// UpdateReportStatusHandler performs an admin status transition through
// the lifecycle manager.
func (re Report) UpdateReportStatusHandler(w http.ResponseWriter, r *http.Request) {
	rID, err := primitive.ObjectIDFromHex(mux.Vars(r)["report_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	updated, err := re.Manager.Transition(r.Context(), rID, req.Status, req.ActionNote)
	if err != nil {
		lifecycleErrorStatus("failed to transition report status", w, err)
		return
	}

	b, err := json.Marshal(updated)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// FeedHandler returns the public feed, newest first, all statuses.
func (re Report) FeedHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := feed.Query{}.Filter()
	if err != nil {
		config.ErrorStatus("failed to build feed filter", http.StatusBadRequest, w, err)
		return
	}
	re.writeListing(w, r, filter)
}

// DashboardHandler returns the admin dashboard listing: free-text search
// over title/description, category and status filters, and an optional
// map-only restriction to reports that carry a location.
func (re Report) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	q := feed.Query{
		Search:       r.URL.Query().Get("search"),
		Category:     r.URL.Query().Get("category"),
		StatusLabel:  r.URL.Query().Get("status"),
		LocationOnly: r.URL.Query().Get("has_location") == "true",
	}
	filter, err := q.Filter()
	if err != nil {
		config.ErrorStatus("failed to build dashboard filter", http.StatusBadRequest, w, err)
		return
	}
	re.writeListing(w, r, filter)
}

// ReportsByUserIDHandler returns all reports owned by the given user
func (re Report) ReportsByUserIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	zap.S().Debugf("user_id: '%v'", userID)

	filter, err := feed.Query{OwnerID: userID}.Filter()
	if err != nil {
		config.ErrorStatus("failed to build listing filter", http.StatusBadRequest, w, err)
		return
	}
	re.writeListing(w, r, filter)
}

func (re Report) writeListing(w http.ResponseWriter, r *http.Request, filter bson.M) {
	limit := getLimit(r)
	page := getPage(r)

	dbResp, err := re.RDB.FindPage(context.TODO(), filter, feed.NewestFirst(), limit, page)
	if err != nil {
		config.ErrorStatus("failed to get reports", http.StatusNotFound, w, err)
		return
	}
	// Because the frontend requires that the data elements exist, if
	// len == 0 then we will just return an empty data object
	if len(dbResp) == 0 {
		dbResp = []models.Report{}
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
