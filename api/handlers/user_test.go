package handlers_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/civicgrid/civic-issues-api/api/handlers"
	"github.com/civicgrid/civic-issues-api/databases"
	"github.com/civicgrid/civic-issues-api/databases/mocks"
	"github.com/civicgrid/civic-issues-api/models"
)

func TestUser_UserHandlerNotFound(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/user/608cafd695eb9dc05379b7f3", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"user_id": "608cafd695eb9dc05379b7f3"})

	db := &mocks.DatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(errors.New("mongo: no documents in result"))
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.On("Collection", "users").Return(conn)

	u := handlers.User{DB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	http.HandlerFunc(u.UserHandler).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}
}

func TestUser_UserHandlerBlanksPassword(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/user/608cafd695eb9dc05379b7f3", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"user_id": "608cafd695eb9dc05379b7f3"})

	db := &mocks.DatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).ID = "608cafd695eb9dc05379b7f3"
		(*arg).Details.Email = "jane@example.com"
		(*arg).Details.Password = "$2a$10$secret"
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.On("Collection", "users").Return(conn)

	u := handlers.User{DB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	http.HandlerFunc(u.UserHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "jane@example.com")
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestUser_UserCountersHandlerSpeaksWireVocabulary(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/user/608cafd695eb9dc05379b7f3/counters", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"user_id": "608cafd695eb9dc05379b7f3"})

	db := &mocks.DatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).ID = "608cafd695eb9dc05379b7f3"
		(*arg).Details.Reports = models.ReportCounters{Issued: 2, InReview: 1, Closed: 3}
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.On("Collection", "users").Return(conn)

	u := handlers.User{DB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	http.HandlerFunc(u.UserCountersHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"pending": 2, "inProgress": 1, "resolved": 3}`, rr.Body.String())
}

func TestUser_UserCreateHandlerDuplicateEmail(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "jane@example.com", "password": "hunter2"}`)
	req, err := http.NewRequest("POST", "/api/v1/user/create-user", body)
	if err != nil {
		t.Fatal(err)
	}

	db := &mocks.DatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}

	// the email lookup decodes an existing user
	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.User)
		(*arg).ID = "608cafd695eb9dc05379b7f3"
		(*arg).Details.Email = "jane@example.com"
	})
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)
	db.On("Collection", "users").Return(conn)

	u := handlers.User{DB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	http.HandlerFunc(u.UserCreateHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "email already exists")
}

func TestUser_UserCreateHandlerCreatesWithZeroedCounters(t *testing.T) {
	body := bytes.NewBufferString(`{"email": "jane@example.com", "password": "hunter2", "name": "Jane"}`)
	req, err := http.NewRequest("POST", "/api/v1/user/create-user", body)
	if err != nil {
		t.Fatal(err)
	}

	db := &mocks.DatabaseHelper{}
	conn := &mocks.CollectionHelper{}
	singleResultHelper := &mocks.SingleResultHelper{}
	insertResult := &mocks.InsertOneResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(errors.New("mongo: no documents in result"))
	conn.On("FindOne", mock.Anything, mock.Anything).Return(singleResultHelper)

	var inserted models.User
	conn.On("InsertOne", mock.Anything, mock.Anything).Return(insertResult, nil).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(models.User)
	})
	db.On("Collection", "users").Return(conn)

	u := handlers.User{DB: databases.NewUserDatabase(db)}

	rr := httptest.NewRecorder()
	http.HandlerFunc(u.UserCreateHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"_id"`)
	assert.Equal(t, "jane@example.com", inserted.Details.Email)
	assert.Equal(t, models.ReportCounters{}, inserted.Details.Reports)
	// stored password must be a bcrypt hash, never the plaintext
	assert.NotEqual(t, "hunter2", inserted.Details.Password)
	assert.NotEmpty(t, inserted.Details.Password)
}
