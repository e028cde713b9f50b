package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/api"
	"github.com/civicgrid/civic-issues-api/api/scheduler"
	"github.com/civicgrid/civic-issues-api/config"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/lifecycle"
	"github.com/civicgrid/civic-issues-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	DB        databases.CollectionHelper
	Config    config.Config
	Scheduler *scheduler.Scheduler
	dbHelper  databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	reportDB := databases.NewReportDatabase(a.dbHelper)
	userDB := databases.NewUserDatabase(a.dbHelper)
	adminDB := databases.NewAdminDatabase(a.dbHelper)

	live := NewLiveFeed()
	manager := lifecycle.NewManager(reportDB, userDB)

	u := User{DB: userDB}
	rep := Report{RDB: reportDB, Manager: manager, Live: live}
	adm := Admin{ADB: adminDB, Config: a.Config}
	media := MediaHandler{}

	adminAuth := func(h http.HandlerFunc) http.Handler {
		return api.AdminMiddleware(a.Config.AdminJWTSecret, h)
	}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", http.HandlerFunc(m.CreateToken)).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")
	apiCreate.Handle("/admin/auth", http.HandlerFunc(adm.AdminLoginHandler)).Methods("POST")

	apiCreate.Handle("/user/create-user", http.HandlerFunc(u.UserCreateHandler)).Methods("POST")
	apiCreate.Handle("/user/{user_id}", api.Middleware(http.HandlerFunc(u.UserHandler))).Methods("GET")
	apiCreate.Handle("/user/{user_id}/counters", api.Middleware(http.HandlerFunc(u.UserCountersHandler))).Methods("GET")

	apiCreate.Handle("/report", api.Middleware(http.HandlerFunc(rep.CreateReportHandler))).Methods("POST")
	apiCreate.Handle("/report/{report_id}", api.Middleware(http.HandlerFunc(rep.ReportByIDHandler))).Methods("GET")
	apiCreate.Handle("/report/{report_id}", api.Middleware(http.HandlerFunc(rep.UpdateReportHandler))).Methods("PUT")
	apiCreate.Handle("/report/{report_id}", api.Middleware(http.HandlerFunc(rep.DeleteReportHandler))).Methods("DELETE")
	apiCreate.Handle("/report/{report_id}/status", adminAuth(rep.UpdateReportStatusHandler)).Methods("PUT")

	apiCreate.Handle("/reports/feed", http.HandlerFunc(rep.FeedHandler)).Methods("GET")
	apiCreate.Handle("/reports/live", http.HandlerFunc(live.Handler)).Methods("GET")
	apiCreate.Handle("/reports/user/{user_id}", api.Middleware(http.HandlerFunc(rep.ReportsByUserIDHandler))).Methods("GET")
	apiCreate.Handle("/reports", adminAuth(rep.DashboardHandler)).Methods("GET")

	apiCreate.Handle("/media", api.Middleware(http.HandlerFunc(media.UploadHandler))).Methods("POST")
	apiCreate.Handle("/generate-signature", api.Middleware(http.HandlerFunc(media.GenerateSignature))).Methods("POST")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("civic-issues-api has connected to the database")

	// nightly counter reconciliation
	a.Scheduler = scheduler.New(
		databases.NewReportDatabase(a.dbHelper),
		databases.NewUserDatabase(a.dbHelper),
	)
	a.Scheduler.Start()

	// initialize api router
	a.initializeRoutes()
	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
