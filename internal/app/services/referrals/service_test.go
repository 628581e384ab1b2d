package referrals

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]notification.Message
}

func (f *fakeNotifier) SendToUser(_ context.Context, userID string, msg notification.Message) (notification.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string][]notification.Message{}
	}
	f.sent[userID] = append(f.sent[userID], msg)
	return notification.Result{Sent: 1}, nil
}

type fakeMailer struct {
	to   []string
	fail bool
}

func (m *fakeMailer) SendMail(_ context.Context, to, _, _ string) error {
	m.to = append(m.to, to)
	if m.fail {
		return errors.New("smtp down")
	}
	return nil
}

func newService(t *testing.T) (*Service, *memory.Store, *fakeNotifier) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, "https://app.example.it/", nil)
	notifier := &fakeNotifier{}
	svc.AttachDependencies(notifier, &fakeMailer{})
	return svc, store, notifier
}

func createUser(t *testing.T, store *memory.Store, email, first string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Email: email, FirstName: first, Role: user.RoleClient})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCodePrefix(t *testing.T) {
	cases := map[string]string{
		"Mario":   "MARI",
		"Lù":      "LXXX",
		"Jo-Ann":  "JOAN",
		"":        "XXXX",
		"d'Amico": "DAMI",
	}
	for name, want := range cases {
		if got := codePrefix(name); got != want {
			t.Errorf("codePrefix(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestGetMyCodeCreatesOnce(t *testing.T) {
	svc, store, _ := newService(t)
	u := createUser(t, store, "mario@x.it", "Mario")
	ctx := context.Background()

	info, err := svc.GetMyCode(ctx, u.ID)
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	pattern := regexp.MustCompile(`^MARI\d{4}[A-Z0-9]{6}$`)
	if !pattern.MatchString(info.Code) {
		t.Fatalf("unexpected code %s", info.Code)
	}
	if info.Link != "https://app.example.it/signup?ref="+info.Code {
		t.Fatalf("unexpected link %s", info.Link)
	}
	if !strings.Contains(info.WhatsAppText, info.Code) {
		t.Fatalf("whatsapp text misses code")
	}
	again, _ := svc.GetMyCode(ctx, u.ID)
	if again.Code != info.Code {
		t.Fatalf("code should be stable")
	}
}

func TestCreateReferralRejectsDuplicatesAndRegistered(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	referrer := createUser(t, store, "mario@x.it", "Mario")
	createUser(t, store, "taken@x.it", "Luca")

	ref, err := svc.CreateReferral(ctx, referrer.ID, "Friend@X.it")
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if ref.Email != "friend@x.it" || ref.Status != referral.StatusPending {
		t.Fatalf("unexpected referral %+v", ref)
	}
	if ref.ExpiresAt.Sub(ref.CreatedAt) < 89*24*time.Hour {
		t.Fatalf("expiry not set: %+v", ref)
	}
	if _, err := svc.CreateReferral(ctx, referrer.ID, "friend@x.it"); errors.HTTPStatusFor(err) != http.StatusConflict {
		t.Fatalf("expected conflict for duplicate invite, got %v", err)
	}
	if _, err := svc.CreateReferral(ctx, referrer.ID, "taken@x.it"); errors.HTTPStatusFor(err) != http.StatusConflict {
		t.Fatalf("expected conflict for registered email, got %v", err)
	}
}

func TestInviteEmailFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	svc := New(store, store, "https://app", nil)
	mailer := &fakeMailer{fail: true}
	svc.AttachDependencies(nil, mailer)
	referrer := createUser(t, store, "mario@x.it", "Mario")

	if _, err := svc.CreateReferral(context.Background(), referrer.ID, "friend@x.it"); err != nil {
		t.Fatalf("mail failure must not fail the referral: %v", err)
	}
	if len(mailer.to) != 1 {
		t.Fatalf("expected one mail attempt")
	}
}

func TestSignupAndConversionAwardPoints(t *testing.T) {
	svc, store, notifier := newService(t)
	ctx := context.Background()
	referrer := createUser(t, store, "mario@x.it", "Mario")
	ref, err := svc.CreateReferral(ctx, referrer.ID, "friend@x.it")
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}

	clicked, err := svc.TrackClick(ctx, ref.Code)
	if err != nil || clicked.ClickedAt == nil {
		t.Fatalf("track click: %+v %v", clicked, err)
	}
	first := *clicked.ClickedAt
	clicked, _ = svc.TrackClick(ctx, ref.Code)
	if !clicked.ClickedAt.Equal(first) {
		t.Fatalf("click must be recorded once")
	}

	friend := createUser(t, store, "friend@x.it", "Anna")
	registered, err := svc.TrackSignup(ctx, ref.Code, friend.ID, "FRIEND@x.it")
	if err != nil {
		t.Fatalf("track signup: %v", err)
	}
	if registered.Status != referral.StatusRegistered || registered.RefereeID != friend.ID {
		t.Fatalf("unexpected referral %+v", registered)
	}

	converted, err := svc.TrackFirstRequest(ctx, friend.ID)
	if err != nil || !converted {
		t.Fatalf("track first request: %v %v", converted, err)
	}
	if again, _ := svc.TrackFirstRequest(ctx, friend.ID); again {
		t.Fatalf("conversion must happen once")
	}

	balance, txs, err := svc.Points(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if balance.Points != 70 || len(txs) != 2 {
		t.Fatalf("unexpected referrer balance %+v (%d txs)", balance, len(txs))
	}
	friendBalance, _, _ := svc.Points(ctx, friend.ID)
	if friendBalance.Points != 10 {
		t.Fatalf("unexpected referee balance %+v", friendBalance)
	}

	msgs := notifier.sent[referrer.ID]
	if len(msgs) != 2 || msgs[0].Priority != notification.PriorityNormal || msgs[1].Priority != notification.PriorityHigh {
		t.Fatalf("unexpected notifications %+v", msgs)
	}

	stats, err := svc.Stats(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Converted != 1 || stats.TotalPointsEarned != 50 || stats.CurrentPoints != 70 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAddPointsSerialisesPerUser(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.AddPoints(ctx, "u1", 5, referral.TransactionEarned, "bonus", "")
		}()
	}
	wg.Wait()
	balance, _, _ := svc.Points(ctx, "u1")
	if balance.Points != 100 || balance.TotalEarned != 100 {
		t.Fatalf("unexpected balance %+v", balance)
	}
	if _, err := svc.AddPoints(ctx, "u1", 500, referral.TransactionSpent, "premio", ""); errors.HTTPStatusFor(err) != http.StatusBadRequest {
		t.Fatalf("expected insufficient points, got %v", err)
	}
}

func TestConversionRate(t *testing.T) {
	if got := ConversionRate(0, 0); got != "0.00%" {
		t.Fatalf("got %s", got)
	}
	if got := ConversionRate(2, 1); got != "33.33%" {
		t.Fatalf("got %s", got)
	}
}

func TestCleanupExpiredAndAnalytics(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -100)
	store.CreateReferral(ctx, referral.Referral{ReferrerID: "r", Code: "C1", Status: referral.StatusPending, CreatedAt: old})
	store.CreateReferral(ctx, referral.Referral{ReferrerID: "r", Code: "C1", Status: referral.StatusPending})
	registered := time.Now().UTC().Add(-time.Hour)
	store.CreateReferral(ctx, referral.Referral{ReferrerID: "r", RefereeID: "x", Code: "C1", Status: referral.StatusConverted, RegisteredAt: &registered})

	n, err := svc.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d (%v)", n, err)
	}
	analytics, err := svc.GlobalAnalytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if analytics.StatusBreakdown["EXPIRED"] != 1 || analytics.StatusBreakdown["PENDING"] != 1 {
		t.Fatalf("unexpected breakdown %+v", analytics.StatusBreakdown)
	}
	if analytics.ConversionRate != "100.00%" || len(analytics.RecentSignups) != 1 {
		t.Fatalf("unexpected analytics %+v", analytics)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	svc, _, _ := newService(t)
	sweeper := NewSweeper(svc, nil)
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
