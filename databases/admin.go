package databases

// go generate: mockery --name AdminDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicgrid/civic-issues-api/models"
)

const adminName = "admins"

// AdminDatabase contains the methods to use with the admin database
type AdminDatabase interface {
	FindOne(ctx context.Context, filter interface{}) (*models.AdminUser, error)
	InsertOne(ctx context.Context, admin models.AdminUser) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error)
}

type adminDatabase struct {
	db DatabaseHelper
}

// NewAdminDatabase initializes a new instance of admin database with the provided db connection
func NewAdminDatabase(db DatabaseHelper) AdminDatabase {
	return &adminDatabase{
		db: db,
	}
}

func (a *adminDatabase) FindOne(ctx context.Context, filter interface{}) (*models.AdminUser, error) {
	admin := &models.AdminUser{}
	err := a.db.Collection(adminName).FindOne(ctx, filter).Decode(&admin)
	if err != nil {
		return nil, err
	}
	return admin, nil
}

func (a *adminDatabase) InsertOne(ctx context.Context, admin models.AdminUser) (InsertOneResultHelper, error) {
	return a.db.Collection(adminName).InsertOne(ctx, admin)
}

func (a *adminDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	res, err := a.db.Collection(adminName).UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}
