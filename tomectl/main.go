package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/tomeapp/tome/tome"
)

const TomeCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Tome control.

The default url is:
    api_url: https://api.tome.app

Usage:
    tomectl login [--api_url=<api_url>]
    tomectl search-books [--api_url=<api_url>] [--limit=<limit>] <query>
    tomectl add-book [--api_url=<api_url>] --jwt=<jwt>
        --title=<title>
        --author=<author>
        [--isbn=<isbn>]
    tomectl add-reading [--api_url=<api_url>] --jwt=<jwt>
        --book_id=<book_id>
        --status=<status>
        [--review=<review>]
        [--public]
    tomectl dismiss [--api_url=<api_url>] --jwt=<jwt> <recommendation_id>
    tomectl follow [--api_url=<api_url>] --jwt=<jwt> <user_id>
    tomectl unfollow [--api_url=<api_url>] --jwt=<jwt> <user_id>
    tomectl feed [--api_url=<api_url>] --jwt=<jwt> [--limit=<limit>]
    tomectl search-users [--api_url=<api_url>] --jwt=<jwt> <query>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --jwt=<jwt>              Your access token.
    --limit=<limit>          Maximum number of results.
    --title=<title>
    --author=<author>
    --isbn=<isbn>
    --book_id=<book_id>
    --status=<status>        One of: want_to_read, reading, finished.
    --review=<review>
    --public                 Make the review public.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], TomeCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if searchBooks_, _ := opts.Bool("search-books"); searchBooks_ {
		searchBooks(opts)
	} else if addBook_, _ := opts.Bool("add-book"); addBook_ {
		addBook(opts)
	} else if addReading_, _ := opts.Bool("add-reading"); addReading_ {
		addReading(opts)
	} else if dismiss_, _ := opts.Bool("dismiss"); dismiss_ {
		dismiss(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(opts, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		follow(opts, false)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	} else if searchUsers_, _ := opts.Bool("search-users"); searchUsers_ {
		searchUsers(opts)
	}
}

func newApi(opts docopt.Opts) *tome.TomeApi {
	apiUrl := "https://api.tome.app"
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		apiUrl = apiUrl_
	}

	sessions := tome.NewSessionStore()
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		sessions.Set(&tome.Session{
			AccessToken: jwt,
		})
	}

	return tome.NewTomeApi(func() string {
		return apiUrl
	}, sessions)
}

func login(opts docopt.Opts) {
	api := newApi(opts)

	fmt.Print("Provider token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		panic(err)
	}

	result, err := api.AuthGoogleSync(&tome.AuthGoogleArgs{
		Token: strings.TrimSpace(string(tokenBytes)),
	})
	if err != nil {
		Err.Fatalf("Could not log in: %s", err)
	}

	Out.Printf("Logged in as %s <%s> (user %d)", result.User.Name, result.User.Email, result.User.UserId)
	if result.AccessToken == "" {
		Out.Printf("No access token was minted. The session is degraded until a silent refresh succeeds.")
	} else {
		Out.Printf("jwt: %s", result.AccessToken)
	}
}

func searchBooks(opts docopt.Opts) {
	api := newApi(opts)

	query, _ := opts.String("<query>")
	limit := optInt(opts, "--limit", 10)

	result, err := tome.TraceWithReturnError("search-books", func() (*tome.SearchBooksResult, error) {
		return api.SearchBooksSync(&tome.SearchBooksArgs{
			Query: query,
			Limit: limit,
		})
	})
	if err != nil {
		Err.Fatalf("Search failed: %s", err)
	}

	for _, book := range result.Books {
		Out.Printf("%d: %s - %s", book.BookId, book.Title, book.Author)
	}
}

func addBook(opts docopt.Opts) {
	api := newApi(opts)
	coordinator := tome.NewMutationCoordinator(
		tome.NewEntityOperationTracker(),
		tome.NewQueryCache(),
	)

	title, _ := opts.String("--title")
	author, _ := opts.String("--author")
	isbn, _ := opts.String("--isbn")

	pending := coordinator.Mutate(context.Background(), &tome.Mutation{
		Kind: tome.OperationAddBook,
		RemoteCall: func(ctx context.Context) error {
			_, err := api.CreateBookSync(&tome.CreateBookArgs{
				Title:  title,
				Author: author,
				Isbn:   isbn,
			})
			return err
		},
		InvalidateKeys: []tome.QueryKey{
			tome.NewQueryKey("books.search"),
		},
	})

	switch pending.Outcome {
	case tome.MutationCommitted:
		Out.Printf("Added %s", title)
	default:
		if pending.Classification == tome.ErrorConflict {
			Err.Fatalf("%s is already in the library.", title)
		}
		Err.Fatalf("Could not add %s: %s", title, pending.Err)
	}
}

func addReading(opts docopt.Opts) {
	api := newApi(opts)

	bookId := requireInt64(opts, "--book_id")
	status, _ := opts.String("--status")
	review, _ := opts.String("--review")
	public, _ := opts.Bool("--public")

	result, err := api.CreateReadingSync(&tome.CreateReadingArgs{
		BookId:         bookId,
		Status:         status,
		Review:         review,
		IsReviewPublic: public,
	})
	if err != nil {
		Err.Fatalf("Could not create reading: %s", err)
	}

	Out.Printf("Reading %d: book %d (%s)", result.Reading.ReadingId, result.Reading.BookId, result.Reading.Status)
}

func dismiss(opts docopt.Opts) {
	api := newApi(opts)
	coordinator := tome.NewMutationCoordinator(
		tome.NewEntityOperationTracker(),
		tome.NewQueryCache(),
	)

	recommendationId := requireInt64(opts, "<recommendation_id>")

	pending := coordinator.Mutate(context.Background(), &tome.Mutation{
		Kind:     tome.OperationDismiss,
		EntityId: recommendationId,
		RemoteCall: func(ctx context.Context) error {
			_, err := api.DismissRecommendationSync(&tome.DismissRecommendationArgs{
				RecommendationId: recommendationId,
			})
			return err
		},
		InvalidateKeys: []tome.QueryKey{
			tome.NewQueryKey("recommendations"),
			tome.NewQueryKey("dashboard.summary"),
		},
	})

	if pending.Outcome != tome.MutationCommitted {
		Err.Fatalf("Could not dismiss %d: %s", recommendationId, pending.Err)
	}
	Out.Printf("Dismissed %d", recommendationId)
}

func follow(opts docopt.Opts, following bool) {
	api := newApi(opts)
	coordinator := tome.NewMutationCoordinator(
		tome.NewEntityOperationTracker(),
		tome.NewQueryCache(),
	)

	userId := requireInt64(opts, "<user_id>")

	kind := tome.OperationFollow
	remoteCall := func(ctx context.Context) error {
		_, err := api.FollowSync(&tome.FollowArgs{
			UserId: userId,
		})
		return err
	}
	if !following {
		kind = tome.OperationUnfollow
		remoteCall = func(ctx context.Context) error {
			_, err := api.UnfollowSync(&tome.UnfollowArgs{
				UserId: userId,
			})
			return err
		}
	}

	pending := coordinator.Mutate(context.Background(), &tome.Mutation{
		Kind:       kind,
		EntityId:   userId,
		RemoteCall: remoteCall,
		InvalidateKeys: []tome.QueryKey{
			tome.NewQueryKey("social.feed"),
			tome.NewQueryKey("users.search"),
		},
	})

	if pending.Outcome != tome.MutationCommitted {
		Err.Fatalf("Could not update follow state for %d: %s", userId, pending.Err)
	}
	Out.Printf("ok")
}

func feed(opts docopt.Opts) {
	api := newApi(opts)

	limit := optInt(opts, "--limit", 20)

	result, err := api.GetFeedSync(&tome.GetFeedArgs{
		Limit: limit,
	})
	if err != nil {
		Err.Fatalf("Could not load feed: %s", err)
	}

	for _, item := range result.Items {
		if item.Reading != nil {
			Out.Printf("%s %s %s (%s)", item.UserName, item.Action, item.Reading.BookTitle, item.Reading.Status)
		} else {
			Out.Printf("%s %s", item.UserName, item.Action)
		}
	}
}

func searchUsers(opts docopt.Opts) {
	api := newApi(opts)

	query, _ := opts.String("<query>")

	result, err := api.SearchUsersSync(&tome.SearchUsersArgs{
		Query: query,
	})
	if err != nil {
		Err.Fatalf("Search failed: %s", err)
	}

	for _, user := range result.Users {
		Out.Printf("%d: %s", user.UserId, user.Name)
	}
}

func optInt(opts docopt.Opts, name string, defaultValue int) int {
	if value, err := opts.Int(name); err == nil {
		return value
	}
	return defaultValue
}

func requireInt64(opts docopt.Opts, name string) int64 {
	value, err := opts.String(name)
	if err != nil {
		Err.Fatalf("Missing %s", name)
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		Err.Fatalf("Invalid %s: %s", name, value)
	}
	return parsed
}
