// Package referrals issues referral codes, tracks invitations through signup
// and first request, and keeps the points ledger.
package referrals

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSuffixLen   = 6
	maxCodeAttempts = 10
	recentReferrals = 5
	recentSignups   = 20
	signupWindow    = 30 * 24 * time.Hour
)

// Notifier delivers referral notifications.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, msg notification.Message) (notification.Result, error)
}

// Service manages referrals and points.
type Service struct {
	users       storage.UserStore
	store       storage.ReferralStore
	notifier    Notifier
	mailer      notifications.Mailer
	frontendURL string
	log         *logger.Logger
	now         func() time.Time

	locks sync.Map
}

// New constructs a referral service.
func New(users storage.UserStore, store storage.ReferralStore, frontendURL string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referrals")
	}
	return &Service{
		users:       users,
		store:       store,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
		now:         time.Now,
	}
}

// AttachDependencies wires notification delivery and the invite mailer.
// Either may be nil.
func (s *Service) AttachDependencies(notifier Notifier, mailer notifications.Mailer) {
	s.notifier = notifier
	s.mailer = mailer
}

// codePrefix returns the first four letters of name, uppercased and padded
// with X.
func codePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r < 'A' || r > 'Z' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == 4 {
			break
		}
	}
	prefix := b.String()
	return prefix + strings.Repeat("X", 4-len(prefix))
}

func randomSuffix() (string, error) {
	buf := make([]byte, codeSuffixLen)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// GenerateCode returns an unused referral code for a user named firstName.
func (s *Service) GenerateCode(ctx context.Context, firstName string) (string, error) {
	prefix := codePrefix(firstName) + fmt.Sprint(s.now().Year())
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix, err := randomSuffix()
		if err != nil {
			return "", err
		}
		code := prefix + suffix
		_, err = s.users.GetUserByReferralCode(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.Internal("could not generate a unique referral code", nil)
}

func (s *Service) link(code string) string {
	return s.frontendURL + "/signup?ref=" + code
}

// GetMyCode returns the user's code, creating it when missing.
func (s *Service) GetMyCode(ctx context.Context, userID string) (referral.CodeInfo, error) {
	u, err := s.ensureCode(ctx, userID)
	if err != nil {
		return referral.CodeInfo{}, err
	}
	code := u.ReferralCode
	link := s.link(code)
	return referral.CodeInfo{
		Code: code,
		Link: link,
		ShareText: fmt.Sprintf("Prova il nostro servizio di assistenza! Usa il mio codice %s e ricevi punti bonus alla registrazione!",
			code),
		WhatsAppText: fmt.Sprintf("Ciao! Ti consiglio questo servizio di assistenza!\n\n"+
			"Usa il mio codice invito: *%s*\n\n"+
			"- Ti registri gratis\n- Ricevi punti bonus\n- Accesso a professionisti verificati\n\n"+
			"Link diretto: %s", code, link),
	}, nil
}

func (s *Service) ensureCode(ctx context.Context, userID string) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if u.ReferralCode != "" {
		return u, nil
	}
	code, err := s.GenerateCode(ctx, u.FirstName)
	if err != nil {
		return user.User{}, err
	}
	u.ReferralCode = code
	u, err = s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", userID).WithField("code", code).Info("referral code generated")
	return u, nil
}

// CreateReferral invites email on behalf of referrerID.
func (s *Service) CreateReferral(ctx context.Context, referrerID, email string) (referral.Referral, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return referral.Referral{}, errors.Validation(map[string]string{"email": "a valid email is required"})
	}
	referrer, err := s.ensureCode(ctx, referrerID)
	if err != nil {
		return referral.Referral{}, err
	}

	existing, err := s.store.ListReferralsByReferrer(ctx, referrerID)
	if err != nil {
		return referral.Referral{}, err
	}
	for _, r := range existing {
		if r.Email == email && r.Status != referral.StatusExpired {
			return referral.Referral{}, errors.Conflict("email %s has already been invited", email)
		}
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return referral.Referral{}, errors.Conflict("email %s is already registered", email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return referral.Referral{}, err
	}

	now := s.now().UTC()
	created, err := s.store.CreateReferral(ctx, referral.Referral{
		ReferrerID: referrerID,
		Code:       referrer.ReferralCode,
		Email:      email,
		Status:     referral.StatusPending,
		ExpiresAt:  now.AddDate(0, 0, referral.ExpiryDays),
	})
	if err != nil {
		return referral.Referral{}, err
	}

	if s.mailer != nil {
		body, err := notifications.RenderEmail("Sei stato invitato su Richiesta Assistenza", "",
			fmt.Sprintf("%s ti ha invitato a provare il nostro servizio! Usa il codice %s.", referrer.FullName(), referrer.ReferralCode),
			s.link(referrer.ReferralCode))
		if err == nil {
			err = s.mailer.SendMail(ctx, email, "Invito a Richiesta Assistenza", body)
		}
		if err != nil {
			s.log.WithError(err).WithField("referral_id", created.ID).Warn("referral invite email failed")
		}
	}

	s.log.WithField("referral_id", created.ID).WithField("referrer_id", referrerID).Info("referral created")
	return created, nil
}

// TrackClick stamps clickedAt on the newest pending referral for code, once.
func (s *Service) TrackClick(ctx context.Context, code string) (referral.Referral, error) {
	list, err := s.store.ListReferralsByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return referral.Referral{}, err
	}
	for _, r := range list {
		if r.Status != referral.StatusPending {
			continue
		}
		if r.ClickedAt != nil {
			return r, nil
		}
		now := s.now().UTC()
		r.ClickedAt = &now
		return s.store.UpdateReferral(ctx, r)
	}
	return referral.Referral{}, errors.NotFound("referral", code)
}

// TrackSignup moves the matching pending referral to REGISTERED and awards
// both parties.
func (s *Service) TrackSignup(ctx context.Context, code, newUserID, email string) (referral.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	email = strings.ToLower(strings.TrimSpace(email))
	list, err := s.store.ListReferralsByCode(ctx, code)
	if err != nil {
		return referral.Referral{}, err
	}

	var match *referral.Referral
	for i := range list {
		if list[i].Status == referral.StatusPending && list[i].Email == email {
			match = &list[i]
			break
		}
	}
	if match == nil {
		for i := range list {
			if list[i].Status == referral.StatusPending && list[i].Email == "" {
				match = &list[i]
				break
			}
		}
	}
	if match == nil {
		// an open code without invitation still credits the owner
		owner, err := s.users.GetUserByReferralCode(ctx, code)
		if err != nil {
			return referral.Referral{}, err
		}
		created, err := s.store.CreateReferral(ctx, referral.Referral{
			ReferrerID: owner.ID,
			Code:       code,
			Email:      email,
			Status:     referral.StatusPending,
			ExpiresAt:  s.now().UTC().AddDate(0, 0, referral.ExpiryDays),
		})
		if err != nil {
			return referral.Referral{}, err
		}
		match = &created
	}
	if match.ReferrerID == newUserID {
		return referral.Referral{}, errors.BadRequest("a user cannot refer themselves")
	}

	now := s.now().UTC()
	r := *match
	r.Status = referral.StatusRegistered
	r.RefereeID = newUserID
	r.RegisteredAt = &now
	r.ReferrerReward = referral.RewardReferrerSignup
	r.RefereeReward = referral.RewardRefereeBonus
	r, err = s.store.UpdateReferral(ctx, r)
	if err != nil {
		return referral.Referral{}, err
	}

	if _, err := s.AddPoints(ctx, r.ReferrerID, referral.RewardReferrerSignup, referral.TransactionEarned,
		"Amico registrato con il tuo codice", r.ID); err != nil {
		return r, err
	}
	if _, err := s.AddPoints(ctx, newUserID, referral.RewardRefereeBonus, referral.TransactionEarned,
		"Bonus di benvenuto", r.ID); err != nil {
		return r, err
	}

	s.notify(ctx, r.ReferrerID, notification.Message{
		Type:     "REFERRAL_SIGNUP",
		Title:    "Amico registrato!",
		Content:  fmt.Sprintf("Il tuo amico si è registrato! Hai guadagnato %d punti.", referral.RewardReferrerSignup),
		Priority: notification.PriorityNormal,
		Data:     map[string]interface{}{"referralId": r.ID},
	})
	s.log.WithField("referral_id", r.ID).WithField("referee_id", newUserID).Info("referral signup tracked")
	return r, nil
}

// TrackFirstRequest converts the registered referral of refereeID. It is a
// no-op when none exists.
func (s *Service) TrackFirstRequest(ctx context.Context, refereeID string) (bool, error) {
	list, err := s.store.ListReferralsByReferee(ctx, refereeID)
	if err != nil {
		return false, err
	}
	for _, r := range list {
		if r.Status != referral.StatusRegistered {
			continue
		}
		now := s.now().UTC()
		r.Status = referral.StatusConverted
		r.ConvertedAt = &now
		r.ReferrerReward += referral.RewardReferrerConversion
		r, err = s.store.UpdateReferral(ctx, r)
		if err != nil {
			return false, err
		}
		if _, err := s.AddPoints(ctx, r.ReferrerID, referral.RewardReferrerConversion, referral.TransactionEarned,
			"Conversione referral completata", r.ID); err != nil {
			return true, err
		}
		s.notify(ctx, r.ReferrerID, notification.Message{
			Type:     "REFERRAL_CONVERSION",
			Title:    "Conversione completata!",
			Content:  fmt.Sprintf("Il tuo amico ha completato la prima richiesta! Hai guadagnato %d punti bonus!", referral.RewardReferrerConversion),
			Priority: notification.PriorityHigh,
			Data:     map[string]interface{}{"referralId": r.ID},
		})
		s.log.WithField("referral_id", r.ID).Info("referral converted")
		return true, nil
	}
	return false, nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// AddPoints appends a ledger entry and updates the balance. Updates for the
// same user are serialised.
func (s *Service) AddPoints(ctx context.Context, userID string, points int, kind referral.TransactionType, description, referralID string) (referral.UserPoints, error) {
	if points <= 0 {
		return referral.UserPoints{}, errors.BadRequest("points must be positive")
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := s.store.AddPoints(ctx, referral.PointTransaction{
		UserID:      userID,
		Points:      points,
		Type:        kind,
		Description: description,
		ReferralID:  referralID,
	})
	if err != nil {
		if strings.Contains(err.Error(), "insufficient points") {
			return referral.UserPoints{}, errors.BadRequest("%s", err.Error())
		}
		return referral.UserPoints{}, err
	}
	return balance, nil
}

// Points returns the balance and ledger of a user.
func (s *Service) Points(ctx context.Context, userID string) (referral.UserPoints, []referral.PointTransaction, error) {
	balance, err := s.store.GetPoints(ctx, userID)
	if err != nil {
		return referral.UserPoints{}, nil, err
	}
	txs, err := s.store.ListPointTransactions(ctx, userID)
	if err != nil {
		return referral.UserPoints{}, nil, err
	}
	return balance, txs, nil
}

// Stats summarises the referrals sent by userID.
func (s *Service) Stats(ctx context.Context, userID string) (referral.Stats, error) {
	list, err := s.store.ListReferralsByReferrer(ctx, userID)
	if err != nil {
		return referral.Stats{}, err
	}
	stats := referral.Stats{Total: len(list), Recent: []referral.Referral{}}
	for _, r := range list {
		switch r.Status {
		case referral.StatusPending:
			stats.Pending++
		case referral.StatusRegistered:
			stats.Registered++
		case referral.StatusConverted:
			stats.Converted++
		case referral.StatusExpired:
			stats.Expired++
		}
	}
	stats.TotalPointsEarned = stats.Registered*referral.RewardReferrerSignup + stats.Converted*referral.RewardReferrerConversion
	balance, err := s.store.GetPoints(ctx, userID)
	if err != nil {
		return referral.Stats{}, err
	}
	stats.CurrentPoints = balance.Points
	if len(list) > recentReferrals {
		list = list[:recentReferrals]
	}
	stats.Recent = append(stats.Recent, list...)
	return stats, nil
}

// CleanupExpired expires pending referrals older than the expiry window.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -referral.ExpiryDays)
	n, err := s.store.ExpireReferrals(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("expired", n).Info("expired referrals cleaned up")
	}
	return n, nil
}

// GlobalAnalytics summarises referrals across the platform.
func (s *Service) GlobalAnalytics(ctx context.Context) (referral.Analytics, error) {
	list, err := s.store.ListReferrals(ctx)
	if err != nil {
		return referral.Analytics{}, err
	}
	totalUsers, err := s.users.CountUsers(ctx)
	if err != nil {
		return referral.Analytics{}, err
	}

	out := referral.Analytics{
		StatusBreakdown: map[string]int{
			string(referral.StatusPending):    0,
			string(referral.StatusRegistered): 0,
			string(referral.StatusConverted):  0,
			string(referral.StatusExpired):    0,
		},
		TotalUsers:    totalUsers,
		RecentSignups: []referral.Signup{},
	}
	since := s.now().UTC().Add(-signupWindow)
	for _, r := range list {
		out.StatusBreakdown[string(r.Status)]++
		if r.RegisteredAt != nil && r.RegisteredAt.After(since) {
			out.RecentSignups = append(out.RecentSignups, referral.Signup{
				ReferralID:   r.ID,
				ReferrerID:   r.ReferrerID,
				RefereeID:    r.RefereeID,
				RegisteredAt: *r.RegisteredAt,
			})
		}
	}
	sort.SliceStable(out.RecentSignups, func(i, j int) bool {
		return out.RecentSignups[i].RegisteredAt.After(out.RecentSignups[j].RegisteredAt)
	})
	if len(out.RecentSignups) > recentSignups {
		out.RecentSignups = out.RecentSignups[:recentSignups]
	}
	out.ConversionRate = ConversionRate(out.StatusBreakdown[string(referral.StatusRegistered)],
		out.StatusBreakdown[string(referral.StatusConverted)])
	return out, nil
}

// ConversionRate formats converted / (registered + converted) as a
// percentage with two decimals.
func ConversionRate(registered, converted int) string {
	denominator := registered + converted
	if denominator == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(converted)/float64(denominator)*100)
}

func (s *Service) notify(ctx context.Context, userID string, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.SendToUser(ctx, userID, msg); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("referral notification failed")
	}
}
