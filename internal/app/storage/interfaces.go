package storage

import (
	"context"
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
	apperrors "github.com/richiesta-assistenza/service_layer/internal/errors"
)

// ErrNotFound is returned by every store when a record does not exist.
var ErrNotFound = apperrors.ErrNotFound

// ErrConflict is returned when a write races a concurrent change or breaks a
// uniqueness constraint.
var ErrConflict = apperrors.ErrConflict

// Page bounds a listing query.
type Page struct {
	Offset int
	Limit  int
}

// UserStore persists users and their notification preferences.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (user.User, error)
	ListUsers(ctx context.Context, roles ...user.Role) ([]user.User, error)
	CountUsers(ctx context.Context) (int, error)

	GetPreferences(ctx context.Context, userID string) (user.NotificationPreferences, error)
	SavePreferences(ctx context.Context, prefs user.NotificationPreferences) (user.NotificationPreferences, error)
}

// RequestStore persists assistance requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req request.Request) (request.Request, error)
	UpdateRequest(ctx context.Context, req request.Request) (request.Request, error)
	GetRequest(ctx context.Context, id string) (request.Request, error)
	ListRequests(ctx context.Context, filter request.Filter, page Page) ([]request.Request, int, error)
	// DeleteRequest removes the request together with its quotes.
	DeleteRequest(ctx context.Context, id string) error
	CountRequestsByClient(ctx context.Context, clientID string) (int, error)
	RequestStats(ctx context.Context) (request.Stats, error)
}

// CategoryStore persists the service catalogue. Reads fill the subcategory
// and request counters.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c category.Category) (category.Category, error)
	UpdateCategory(ctx context.Context, c category.Category) (category.Category, error)
	GetCategory(ctx context.Context, id string) (category.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]category.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreateSubcategory(ctx context.Context, sc category.Subcategory) (category.Subcategory, error)
	UpdateSubcategory(ctx context.Context, sc category.Subcategory) (category.Subcategory, error)
	GetSubcategory(ctx context.Context, id string) (category.Subcategory, error)
	ListSubcategories(ctx context.Context, categoryID string, activeOnly bool) ([]category.Subcategory, error)
	DeleteSubcategory(ctx context.Context, id string) error

	// CountSubcategoryRequests counts requests filed under a subcategory,
	// limited to the given statuses when any are passed.
	CountSubcategoryRequests(ctx context.Context, subcategoryID string, statuses ...request.Status) (int, error)
}

// QuoteStore persists quotes, revisions, templates and deposit rules.
type QuoteStore interface {
	CreateQuote(ctx context.Context, q quote.Quote) (quote.Quote, error)
	UpdateQuote(ctx context.Context, q quote.Quote) (quote.Quote, error)
	GetQuote(ctx context.Context, id string) (quote.Quote, error)
	ListQuotesByRequest(ctx context.Context, requestID string) ([]quote.Quote, error)
	ListQuotesByStatus(ctx context.Context, status quote.Status) ([]quote.Quote, error)
	// AcceptQuote marks the quote accepted, rejects sibling pending quotes and
	// assigns the request to the quote's professional as one unit.
	AcceptQuote(ctx context.Context, quoteID string, at time.Time) (quote.Quote, request.Request, error)
	// RejectPendingQuotes closes every PENDING quote of a request.
	RejectPendingQuotes(ctx context.Context, requestID, reason string, at time.Time) (int, error)

	CreateRevision(ctx context.Context, rev quote.Revision) (quote.Revision, error)
	ListRevisions(ctx context.Context, quoteID string) ([]quote.Revision, error)

	CreateTemplate(ctx context.Context, tpl quote.Template) (quote.Template, error)
	GetTemplate(ctx context.Context, id string) (quote.Template, error)
	ListTemplates(ctx context.Context, professionalID string) ([]quote.Template, error)

	CreateDepositRule(ctx context.Context, rule quote.DepositRule) (quote.DepositRule, error)
	UpdateDepositRule(ctx context.Context, rule quote.DepositRule) (quote.DepositRule, error)
	GetDepositRule(ctx context.Context, id string) (quote.DepositRule, error)
	ListDepositRules(ctx context.Context) ([]quote.DepositRule, error)
	DeleteDepositRule(ctx context.Context, id string) error
}

// PaymentStore persists payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByCharge(ctx context.Context, chargeID string) (payment.Payment, error)
	ListPaymentsByRequest(ctx context.Context, requestID string) ([]payment.Payment, error)
	CountPayments(ctx context.Context, status payment.Status, since time.Time) (int, error)
}

// ReferralStore persists referrals and the points ledger.
type ReferralStore interface {
	CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error)
	UpdateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error)
	ListReferralsByReferrer(ctx context.Context, referrerID string) ([]referral.Referral, error)
	ListReferralsByCode(ctx context.Context, code string) ([]referral.Referral, error)
	ListReferralsByReferee(ctx context.Context, refereeID string) ([]referral.Referral, error)
	ListReferrals(ctx context.Context) ([]referral.Referral, error)
	// ExpireReferrals moves PENDING referrals created before cutoff to EXPIRED.
	ExpireReferrals(ctx context.Context, cutoff time.Time) (int, error)

	// AddPoints upserts the balance and appends the transaction atomically.
	AddPoints(ctx context.Context, tx referral.PointTransaction) (referral.UserPoints, error)
	GetPoints(ctx context.Context, userID string) (referral.UserPoints, error)
	ListPointTransactions(ctx context.Context, userID string) ([]referral.PointTransaction, error)
}

// ReviewStore persists reviews.
type ReviewStore interface {
	CreateReview(ctx context.Context, r review.Review) (review.Review, error)
	GetReviewByRequest(ctx context.Context, requestID string) (review.Review, error)
	ListReviewsByProfessional(ctx context.Context, professionalID string, page Page) ([]review.Review, int, error)
	ListRatings(ctx context.Context, professionalID string) ([]int, error)
}

// NotificationStore persists notifications and their delivery logs.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	GetNotification(ctx context.Context, id string) (notification.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, filter notification.Filter) ([]notification.Notification, int, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// DeleteReadBefore removes read notifications created before cutoff.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error)

	CreateNotificationLog(ctx context.Context, l notification.Log) (notification.Log, error)
	UpdateNotificationLog(ctx context.Context, l notification.Log) (notification.Log, error)
	ListNotificationLogsSince(ctx context.Context, since time.Time) ([]notification.Log, error)
}

// ArticleStore persists knowledge base articles.
type ArticleStore interface {
	CreateArticle(ctx context.Context, a knowledge.Article) (knowledge.Article, error)
	UpdateArticle(ctx context.Context, a knowledge.Article) (knowledge.Article, error)
	GetArticle(ctx context.Context, id string) (knowledge.Article, error)
	ListArticles(ctx context.Context, publishedOnly bool) ([]knowledge.Article, error)
	DeleteArticle(ctx context.Context, id string) error
}

// ChatStore persists request chat messages and assistant conversations.
type ChatStore interface {
	CreateMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	UpdateMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	GetMessage(ctx context.Context, id string) (chat.Message, error)
	ListMessages(ctx context.Context, requestID string, page Page) ([]chat.Message, int, error)
	MarkMessagesRead(ctx context.Context, requestID, userID string) (int, error)
	CountUnreadMessages(ctx context.Context, requestID, userID string) (int, error)

	AppendAIMessage(ctx context.Context, m chat.AIMessage) (chat.AIMessage, error)
	ListAIMessages(ctx context.Context, userID string, limit int) ([]chat.AIMessage, error)
	DeleteAIMessages(ctx context.Context, userID string) error
}

// HealthCheckStore persists check results, remediation history and reports.
type HealthCheckStore interface {
	SaveResult(ctx context.Context, r healthcheck.Result) (healthcheck.Result, error)
	LatestResults(ctx context.Context) ([]healthcheck.Result, error)
	// ListResults returns results in [from, to), newest first. Zero bounds
	// are open.
	ListResults(ctx context.Context, module string, from, to time.Time, limit int) ([]healthcheck.Result, error)
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error)

	SaveRemediation(ctx context.Context, r healthcheck.RemediationRecord) (healthcheck.RemediationRecord, error)
	ListRemediations(ctx context.Context, ruleID string, since time.Time) ([]healthcheck.RemediationRecord, error)

	SaveReport(ctx context.Context, r healthcheck.ReportRecord) (healthcheck.ReportRecord, error)
	GetReport(ctx context.Context, id string) (healthcheck.ReportRecord, error)
	ListReports(ctx context.Context) ([]healthcheck.ReportRecord, error)
}
