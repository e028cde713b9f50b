package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Location is a geographic coordinate pair picked on the map by the
// reporter. Reports without a location are legal; they just never show up
// in the map view.
type Location struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Report represents one citizen-submitted issue report
type Report struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID     string             `bson:"ownerId" json:"ownerId"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	Category    string             `bson:"category" json:"category"`
	Location    *Location          `bson:"location,omitempty" json:"location,omitempty"`
	MediaRef    string             `bson:"mediaRef,omitempty" json:"mediaRef,omitempty"`
	Status      Status             `bson:"status" json:"status"`
	ActionNote  string             `bson:"actionNote" json:"actionNote"`
	CreatedAt   primitive.DateTime `bson:"createdAt" json:"createdAt"`
}
