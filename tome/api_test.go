package tome

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func newTestApi(t *testing.T, handler http.Handler) (*TomeApi, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sessions := NewSessionStore()
	api := NewTomeApi(func() string {
		return server.URL
	}, sessions)
	t.Cleanup(api.Close)
	return api, server
}

func TestRequestAttachesBearer(t *testing.T) {
	var authHeader string
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(&SearchUsersResult{})
	}))

	jwtStr := testJwt(t, time.Now().Add(time.Hour))
	api.Sessions().Set(&Session{
		User: UserIdentity{
			UserId: 42,
		},
		AccessToken: jwtStr,
	})

	_, err := api.SearchUsersSync(&SearchUsersArgs{
		Query: "alice",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, authHeader, "Bearer "+jwtStr)
}

func TestRequestDegradedSessionSendsUnauthenticated(t *testing.T) {
	var authHeader string
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		http.Error(w, "missing token", http.StatusUnauthorized)
	}))

	// identity but no token. the request goes out unauthenticated and a
	// protected endpoint answers 401
	api.Sessions().Set(&Session{
		User: UserIdentity{
			UserId: 42,
		},
	})

	_, err := api.SearchUsersSync(&SearchUsersArgs{
		Query: "alice",
	})
	assert.Equal(t, authHeader, "")
	assert.Equal(t, Classify(err), ErrorUnauthenticated)

	// the one-shot diagnostic was consumed by the dispatcher
	assert.Equal(t, api.Sessions().ReportAuthError(), false)
}

func TestRequestClassification(t *testing.T) {
	statusCode := http.StatusInternalServerError
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", statusCode)
	}))

	for _, c := range []struct {
		statusCode     int
		classification ErrorClassification
	}{
		{http.StatusUnauthorized, ErrorUnauthenticated},
		{http.StatusForbidden, ErrorForbidden},
		{http.StatusConflict, ErrorConflict},
		{http.StatusNotFound, ErrorNotFound},
		{http.StatusInternalServerError, ErrorUnknown},
		{http.StatusTeapot, ErrorUnknown},
	} {
		statusCode = c.statusCode
		_, err := api.SearchBooksSync(&SearchBooksArgs{
			Query: "dune",
			Limit: 5,
		})
		assert.Equal(t, Classify(err), c.classification)

		apiErr, ok := err.(*ApiError)
		if !ok {
			t.Fatalf("expected *ApiError, got %T", err)
		}
		assert.Equal(t, apiErr.StatusCode, c.statusCode)
		assert.Equal(t, apiErr.Message, "nope")
	}
}

func TestRequestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverUrl := server.URL
	server.Close()

	api := NewTomeApi(func() string {
		return serverUrl
	}, NewSessionStore())
	defer api.Close()

	_, err := api.GetFeedSync(&GetFeedArgs{
		Limit: 10,
	})
	// no response received
	assert.Equal(t, Classify(err), ErrorNetwork)
}

func TestUpgradeInsecureUrl(t *testing.T) {
	insecureHostSuffixes := DefaultClientSettings().InsecureHostSuffixes

	assert.Equal(t,
		upgradeInsecureUrl("http://tome-api.onrender.com", insecureHostSuffixes),
		"https://tome-api.onrender.com",
	)
	assert.Equal(t,
		upgradeInsecureUrl("http://localhost:8080", insecureHostSuffixes),
		"http://localhost:8080",
	)
	assert.Equal(t,
		upgradeInsecureUrl("https://tome-api.onrender.com", insecureHostSuffixes),
		"https://tome-api.onrender.com",
	)
}

func TestCreateBookConflictRollsBack(t *testing.T) {
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "book already exists", http.StatusConflict)
	}))
	api.Sessions().Set(&Session{
		User: UserIdentity{
			UserId: 42,
		},
		AccessToken: testJwt(t, time.Now().Add(time.Hour)),
	})

	coordinator := newTestCoordinator()
	cache := coordinator.Cache()
	libraryKey := NewQueryKey("library")
	cache.Set(libraryKey, []string{"dune"})

	var surfaced ErrorClassification
	pending := coordinator.Mutate(context.Background(), &Mutation{
		Kind:     OperationAddBook,
		EntityId: 9,
		Edits: []CacheEdit{
			{
				Key: libraryKey,
				Edit: func(value any) any {
					books := value.([]string)
					return append(append([]string{}, books...), "hyperion")
				},
			},
		},
		RemoteCall: func(ctx context.Context) error {
			_, err := api.CreateBookSync(&CreateBookArgs{
				Title:  "hyperion",
				Author: "dan simmons",
			})
			return err
		},
		InvalidateKeys: []QueryKey{libraryKey},
		OnRollback: func(classification ErrorClassification) {
			surfaced = classification
		},
	})

	assert.Equal(t, pending.Outcome, MutationRolledBack)
	// conflict, not unknown
	assert.Equal(t, surfaced, ErrorConflict)

	// the "added to library" projection is gone
	value, fresh := cache.Get(libraryKey)
	assert.Equal(t, value, []string{"dune"})
	assert.Equal(t, fresh, true)
}

func TestGetFeedSkipsMalformedEntries(t *testing.T) {
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the second entry has malformed nested reading data
		w.Write([]byte(`{
			"items": [
				{
					"id": 1,
					"user_id": 10,
					"user_name": "alice",
					"action": "finished",
					"reading": {"id": 100, "book_id": 5, "book_title": "dune", "status": "finished"}
				},
				{
					"id": 2,
					"user_id": 11,
					"user_name": "bob",
					"action": "finished",
					"reading": "not an object"
				},
				{
					"id": 3,
					"user_id": 12,
					"user_name": "carol",
					"action": "followed"
				}
			]
		}`))
	}))

	result, err := api.GetFeedSync(&GetFeedArgs{
		Limit: 10,
	})
	assert.Equal(t, err, nil)

	// the malformed entry is skipped, the valid entries survive
	assert.Equal(t, len(result.Items), 2)
	assert.Equal(t, result.Items[0].ActivityId, int64(1))
	assert.Equal(t, result.Items[0].Reading.BookTitle, "dune")
	assert.Equal(t, result.Items[1].ActivityId, int64(3))
	assert.Equal(t, result.Items[1].Reading, nil)
}

func TestAuthGoogleSeedsSession(t *testing.T) {
	jwtStr := testJwt(t, time.Now().Add(time.Hour))
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		args := &AuthGoogleArgs{}
		json.NewDecoder(r.Body).Decode(args)
		assert.Equal(t, args.Token, "provider-token")

		json.NewEncoder(w).Encode(&AuthGoogleResult{
			User: UserIdentity{
				UserId: 42,
				Email:  "reader@example.com",
				Name:   "Reader",
			},
			AccessToken: jwtStr,
		})
	}))

	result, err := api.AuthGoogleSync(&AuthGoogleArgs{
		Token: "provider-token",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result.User.UserId, int64(42))

	api.Sessions().Set(&Session{
		User:        result.User,
		AccessToken: result.AccessToken,
	})
	assert.Equal(t, api.Sessions().Get().Degraded(), false)
}

func TestRequestAsyncCallback(t *testing.T) {
	api, _ := newTestApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&SearchBooksResult{
			Books: []*Book{
				{BookId: 1, Title: "dune", Author: "frank herbert"},
			},
		})
	}))

	callback, c := NewBlockingApiCallback[*SearchBooksResult]()
	api.SearchBooks(&SearchBooksArgs{
		Query: "dune",
		Limit: 5,
	}, callback)

	result := <-c
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, len(result.Result.Books), 1)
	assert.Equal(t, result.Result.Books[0].Title, "dune")
}
