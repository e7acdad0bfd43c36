package tome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

type ClientSettings struct {
	HttpClient func() *http.Client

	// hosting providers that hand out http:// urls by default.
	// any api url on these hosts is upgraded to https before dispatch
	InsecureHostSuffixes []string
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		HttpClient: defaultClient,
		InsecureHostSuffixes: []string{
			".onrender.com",
			".herokuapp.com",
		},
	}
}

type TomeApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	// resolved at call time, not cached, so runtime configuration
	// changes take effect
	apiUrl func() string

	sessions *SessionStore

	settings *ClientSettings
}

func NewTomeApi(apiUrl func() string, sessions *SessionStore) *TomeApi {
	return NewTomeApiWithContext(context.Background(), apiUrl, sessions, DefaultClientSettings())
}

func NewTomeApiWithContext(ctx context.Context, apiUrl func() string, sessions *SessionStore, settings *ClientSettings) *TomeApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &TomeApi{
		ctx:      cancelCtx,
		cancel:   cancel,
		apiUrl:   apiUrl,
		sessions: sessions,
		settings: settings,
	}
}

func (self *TomeApi) Sessions() *SessionStore {
	return self.sessions
}

func (self *TomeApi) Close() {
	self.cancel()
}

func (self *TomeApi) resolveUrl(path string) string {
	apiUrl := upgradeInsecureUrl(self.apiUrl(), self.settings.InsecureHostSuffixes)
	return fmt.Sprintf("%s%s", strings.TrimSuffix(apiUrl, "/"), path)
}

func upgradeInsecureUrl(apiUrl string, insecureHostSuffixes []string) string {
	u, err := url.Parse(apiUrl)
	if err != nil {
		return apiUrl
	}
	if u.Scheme != "http" {
		return apiUrl
	}
	for _, hostSuffix := range insecureHostSuffixes {
		if strings.HasSuffix(u.Hostname(), hostSuffix) {
			u.Scheme = "https"
			return u.String()
		}
	}
	return apiUrl
}

type AuthGoogleCallback = apiCallback[*AuthGoogleResult]

type AuthGoogleArgs struct {
	Token string `json:"token"`
}

type AuthGoogleResult struct {
	User        UserIdentity `json:"user"`
	AccessToken string       `json:"access_token,omitempty"`
}

func (self *TomeApi) AuthGoogle(authGoogle *AuthGoogleArgs, callback AuthGoogleCallback) {
	go request(
		self,
		"POST",
		"/auth/google",
		authGoogle,
		&AuthGoogleResult{},
		callback,
	)
}

func (self *TomeApi) AuthGoogleSync(authGoogle *AuthGoogleArgs) (*AuthGoogleResult, error) {
	return request(
		self,
		"POST",
		"/auth/google",
		authGoogle,
		&AuthGoogleResult{},
		NewNoopApiCallback[*AuthGoogleResult](),
	)
}

type SearchBooksCallback = apiCallback[*SearchBooksResult]

type SearchBooksArgs struct {
	Query string
	Limit int
}

type SearchBooksResult struct {
	Books []*Book `json:"books"`
}

type Book struct {
	BookId int64  `json:"id,omitempty"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Isbn   string `json:"isbn,omitempty"`
}

// unauthenticated allowed
func (self *TomeApi) SearchBooks(searchBooks *SearchBooksArgs, callback SearchBooksCallback) {
	go request(
		self,
		"GET",
		fmt.Sprintf("/books/search?q=%s&limit=%d", url.QueryEscape(searchBooks.Query), searchBooks.Limit),
		nil,
		&SearchBooksResult{},
		callback,
	)
}

func (self *TomeApi) SearchBooksSync(searchBooks *SearchBooksArgs) (*SearchBooksResult, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("/books/search?q=%s&limit=%d", url.QueryEscape(searchBooks.Query), searchBooks.Limit),
		nil,
		&SearchBooksResult{},
		NewNoopApiCallback[*SearchBooksResult](),
	)
}

type CreateBookCallback = apiCallback[*CreateBookResult]

type CreateBookArgs struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Isbn   string `json:"isbn,omitempty"`
}

// 409 when the book already exists
type CreateBookResult struct {
	Book *Book `json:"book"`
}

func (self *TomeApi) CreateBook(createBook *CreateBookArgs, callback CreateBookCallback) {
	go request(
		self,
		"POST",
		"/books/",
		createBook,
		&CreateBookResult{},
		callback,
	)
}

func (self *TomeApi) CreateBookSync(createBook *CreateBookArgs) (*CreateBookResult, error) {
	return request(
		self,
		"POST",
		"/books/",
		createBook,
		&CreateBookResult{},
		NewNoopApiCallback[*CreateBookResult](),
	)
}

type CreateReadingCallback = apiCallback[*CreateReadingResult]

type CreateReadingArgs struct {
	BookId         int64  `json:"book_id"`
	Status         string `json:"status"`
	Review         string `json:"review,omitempty"`
	IsReviewPublic bool   `json:"is_review_public"`
}

type CreateReadingResult struct {
	Reading *Reading `json:"reading"`
}

type Reading struct {
	ReadingId      int64  `json:"id"`
	BookId         int64  `json:"book_id"`
	Status         string `json:"status"`
	Review         string `json:"review,omitempty"`
	IsReviewPublic bool   `json:"is_review_public"`
}

func (self *TomeApi) CreateReading(createReading *CreateReadingArgs, callback CreateReadingCallback) {
	go request(
		self,
		"POST",
		"/readings/",
		createReading,
		&CreateReadingResult{},
		callback,
	)
}

func (self *TomeApi) CreateReadingSync(createReading *CreateReadingArgs) (*CreateReadingResult, error) {
	return request(
		self,
		"POST",
		"/readings/",
		createReading,
		&CreateReadingResult{},
		NewNoopApiCallback[*CreateReadingResult](),
	)
}

type DismissRecommendationCallback = apiCallback[*DismissRecommendationResult]

type DismissRecommendationArgs struct {
	RecommendationId int64
}

type DismissRecommendationResult struct {
	Dismissed bool `json:"dismissed"`
}

func (self *TomeApi) DismissRecommendation(dismissRecommendation *DismissRecommendationArgs, callback DismissRecommendationCallback) {
	go request(
		self,
		"PUT",
		fmt.Sprintf("/recommendations/%d/dismiss", dismissRecommendation.RecommendationId),
		nil,
		&DismissRecommendationResult{},
		callback,
	)
}

func (self *TomeApi) DismissRecommendationSync(dismissRecommendation *DismissRecommendationArgs) (*DismissRecommendationResult, error) {
	return request(
		self,
		"PUT",
		fmt.Sprintf("/recommendations/%d/dismiss", dismissRecommendation.RecommendationId),
		nil,
		&DismissRecommendationResult{},
		NewNoopApiCallback[*DismissRecommendationResult](),
	)
}

type FollowCallback = apiCallback[*FollowResult]

type FollowArgs struct {
	UserId int64 `json:"user_id"`
}

type FollowResult struct {
	Following bool `json:"following"`
}

func (self *TomeApi) Follow(follow *FollowArgs, callback FollowCallback) {
	go request(
		self,
		"POST",
		"/social/follow",
		follow,
		&FollowResult{},
		callback,
	)
}

func (self *TomeApi) FollowSync(follow *FollowArgs) (*FollowResult, error) {
	return request(
		self,
		"POST",
		"/social/follow",
		follow,
		&FollowResult{},
		NewNoopApiCallback[*FollowResult](),
	)
}

type UnfollowCallback = apiCallback[*UnfollowResult]

type UnfollowArgs struct {
	UserId int64
}

type UnfollowResult struct {
	Following bool `json:"following"`
}

func (self *TomeApi) Unfollow(unfollow *UnfollowArgs, callback UnfollowCallback) {
	go request(
		self,
		"DELETE",
		fmt.Sprintf("/social/unfollow/%d", unfollow.UserId),
		nil,
		&UnfollowResult{},
		callback,
	)
}

func (self *TomeApi) UnfollowSync(unfollow *UnfollowArgs) (*UnfollowResult, error) {
	return request(
		self,
		"DELETE",
		fmt.Sprintf("/social/unfollow/%d", unfollow.UserId),
		nil,
		&UnfollowResult{},
		NewNoopApiCallback[*UnfollowResult](),
	)
}

type GetFeedCallback = apiCallback[*FeedResult]

type GetFeedArgs struct {
	Limit int
}

// aggregated activity plus recent reviews
type FeedResult struct {
	Items []*FeedItem `json:"items"`
}

type FeedItem struct {
	ActivityId  int64        `json:"id"`
	UserId      int64        `json:"user_id"`
	UserName    string       `json:"user_name"`
	Action      string       `json:"action"`
	CreatedTime string       `json:"created_at"`
	Reading     *FeedReading `json:"reading,omitempty"`
}

type FeedReading struct {
	ReadingId      int64  `json:"id"`
	BookId         int64  `json:"book_id"`
	BookTitle      string `json:"book_title"`
	Status         string `json:"status"`
	Review         string `json:"review,omitempty"`
	IsReviewPublic bool   `json:"is_review_public"`
}

// one malformed entry must not fail the whole feed.
// entries that do not decode are skipped
func (self *FeedResult) UnmarshalJSON(src []byte) error {
	var wire struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(src, &wire); err != nil {
		return err
	}

	items := []*FeedItem{}
	for _, itemJson := range wire.Items {
		item := &FeedItem{}
		if err := json.Unmarshal(itemJson, item); err != nil {
			glog.V(1).Infof("[api]skip malformed feed item: %s\n", err)
			continue
		}
		items = append(items, item)
	}
	self.Items = items
	return nil
}

func (self *TomeApi) GetFeed(getFeed *GetFeedArgs, callback GetFeedCallback) {
	go request(
		self,
		"GET",
		fmt.Sprintf("/social/feed?limit=%d", getFeed.Limit),
		nil,
		&FeedResult{},
		callback,
	)
}

func (self *TomeApi) GetFeedSync(getFeed *GetFeedArgs) (*FeedResult, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("/social/feed?limit=%d", getFeed.Limit),
		nil,
		&FeedResult{},
		NewNoopApiCallback[*FeedResult](),
	)
}

type SearchUsersCallback = apiCallback[*SearchUsersResult]

type SearchUsersArgs struct {
	Query string
}

type SearchUsersResult struct {
	Users []*UserProfile `json:"users"`
}

type UserProfile struct {
	UserId int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
}

// authenticated
func (self *TomeApi) SearchUsers(searchUsers *SearchUsersArgs, callback SearchUsersCallback) {
	go request(
		self,
		"GET",
		fmt.Sprintf("/users/search?q=%s", url.QueryEscape(searchUsers.Query)),
		nil,
		&SearchUsersResult{},
		callback,
	)
}

func (self *TomeApi) SearchUsersSync(searchUsers *SearchUsersArgs) (*SearchUsersResult, error) {
	return request(
		self,
		"GET",
		fmt.Sprintf("/users/search?q=%s", url.QueryEscape(searchUsers.Query)),
		nil,
		&SearchUsersResult{},
		NewNoopApiCallback[*SearchUsersResult](),
	)
}

// single dispatch path for every endpoint.
// attaches the bearer token read from the session store immediately before
// send, classifies every failure, and never retries - retry, if any, is
// the mutation's responsibility
func request[R any](api *TomeApi, method string, path string, args any, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(api.ctx, method, api.resolveUrl(path), bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Request-Id", NewId().String())

	if session := api.sessions.Get(); session != nil && session.TokenUsable() {
		auth := fmt.Sprintf("Bearer %s", session.AccessToken)
		req.Header.Add("Authorization", auth)
	}

	client := api.settings.HttpClient()
	r, err := client.Do(req)
	if err != nil {
		apiErr := newNetworkError(err)
		var empty R
		callback.Result(empty, apiErr)
		return empty, apiErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		apiErr := newStatusError(r.StatusCode, errorMessage)
		switch apiErr.Classification {
		case ErrorUnauthenticated, ErrorForbidden:
			// one diagnostic per session, suppressed on repeat.
			// no automatic retry here
			if api.sessions.ReportAuthError() {
				glog.Infof("[api]auth failed (%d) for %s %s\n", r.StatusCode, method, path)
			}
		}
		var empty R
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	if err != nil {
		apiErr := newNetworkError(err)
		var empty R
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		apiErr := &ApiError{
			Classification: ErrorUnknown,
			StatusCode:     r.StatusCode,
			Message:        err.Error(),
		}
		var empty R
		callback.Result(empty, apiErr)
		return empty, apiErr
	}

	callback.Result(result, nil)
	return result, nil
}
