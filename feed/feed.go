// Package feed builds the read-only report listing queries: the public
// feed and the admin dashboard. It only constructs filters and sort
// specs; it never mutates a report.
package feed

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/civicgrid/civic-issues-api/models"
)

// Query describes one listing request. Zero values mean "no filter".
type Query struct {
	// Search matches case-insensitively against title and description.
	Search string
	// Category restricts to one report category.
	Category string
	// StatusLabel restricts to one status, spelled in the presentation
	// vocabulary ("Pending", "In Progress", "Resolved").
	StatusLabel string
	// OwnerID restricts to one citizen's own reports.
	OwnerID string
	// LocationOnly drops reports without coordinates so the result can be
	// rendered on the map. Reports without a location still appear in the
	// plain list view.
	LocationOnly bool
}

// Filter translates the query into a mongo filter document. An unknown
// status label is a caller error, not a silent no-match.
func (q Query) Filter() (bson.M, error) {
	filter := bson.M{}

	if q.Search != "" {
		pattern := regexp.QuoteMeta(q.Search)
		filter["$or"] = []bson.M{
			{"title": bson.M{"$regex": pattern, "$options": "i"}},
			{"description": bson.M{"$regex": pattern, "$options": "i"}},
		}
	}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.StatusLabel != "" {
		internal, err := models.ToInternal(q.StatusLabel)
		if err != nil {
			return nil, err
		}
		filter["status"] = internal
	}
	if q.OwnerID != "" {
		filter["ownerId"] = q.OwnerID
	}
	if q.LocationOnly {
		filter["location"] = bson.M{"$exists": true}
	}
	return filter, nil
}

// NewestFirst is the feed sort order.
func NewestFirst() bson.D {
	return bson.D{{Key: "createdAt", Value: -1}}
}
