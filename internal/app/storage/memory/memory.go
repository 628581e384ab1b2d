package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/category"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/payment"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/review"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	users       map[string]user.User
	preferences map[string]user.NotificationPreferences

	categories    map[string]category.Category
	subcategories map[string]category.Subcategory

	requests     map[string]request.Request
	quotes       map[string]quote.Quote
	revisions    map[string][]quote.Revision
	templates    map[string]quote.Template
	depositRules map[string]quote.DepositRule
	payments     map[string]payment.Payment

	referrals    map[string]referral.Referral
	points       map[string]referral.UserPoints
	pointHistory map[string][]referral.PointTransaction
	reviews      map[string]review.Review

	notifications    map[string]notification.Notification
	notificationLogs map[string]notification.Log

	articles   map[string]knowledge.Article
	messages   map[string]chat.Message
	aiMessages map[string][]chat.AIMessage

	results      []healthcheck.Result
	remediations []healthcheck.RemediationRecord
	reports      map[string]healthcheck.ReportRecord
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.CategoryStore = (*Store)(nil)
var _ storage.QuoteStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.ReviewStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.ArticleStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)
var _ storage.HealthCheckStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:           1,
		users:            make(map[string]user.User),
		preferences:      make(map[string]user.NotificationPreferences),
		categories:       make(map[string]category.Category),
		subcategories:    make(map[string]category.Subcategory),
		requests:         make(map[string]request.Request),
		quotes:           make(map[string]quote.Quote),
		revisions:        make(map[string][]quote.Revision),
		templates:        make(map[string]quote.Template),
		depositRules:     make(map[string]quote.DepositRule),
		payments:         make(map[string]payment.Payment),
		referrals:        make(map[string]referral.Referral),
		points:           make(map[string]referral.UserPoints),
		pointHistory:     make(map[string][]referral.PointTransaction),
		reviews:          make(map[string]review.Review),
		notifications:    make(map[string]notification.Notification),
		notificationLogs: make(map[string]notification.Log),
		articles:         make(map[string]knowledge.Article),
		messages:         make(map[string]chat.Message),
		aiMessages:       make(map[string][]chat.AIMessage),
		reports:          make(map[string]healthcheck.ReportRecord),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func conflict(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, storage.ErrConflict)...)
}

// window applies offset/limit to an already sorted slice. A zero limit
// returns everything after offset.
func window[T any](items []T, page storage.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// idLess orders the numeric identifiers handed out by nextIDLocked.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func newerFirst(ta, tb time.Time, ida, idb string) bool {
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return idLess(idb, ida)
}

func olderFirst(ta, tb time.Time, ida, idb string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return idLess(ida, idb)
}
