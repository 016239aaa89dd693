// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/keygen"
	"github.com/autobrr/licensegate/internal/models"
)

const (
	defaultIssueAttempts = 5
	defaultIssueDelay    = 50 * time.Millisecond
	recentRedemptions    = 10
)

// Operations reported to an OutcomeRecorder
const (
	OperationValidate = "validate"
	OperationRedeem   = "redeem"
	OperationIssue    = "issue"
)

const (
	OutcomeSuccess = "ok"
	OutcomeError   = "error"
)

// OutcomeRecorder receives one call per finished operation
type OutcomeRecorder interface {
	RecordOutcome(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, string) {}

// ValidationResult is returned by Validate. A failed validation is a result, not an error.
type ValidationResult struct {
	Valid   bool               `json:"valid"`
	Reason  Reason             `json:"reason,omitempty"`
	Message string             `json:"message"`
	Key     *models.LicenseKey `json:"key,omitempty"`
}

type RedeemRequest struct {
	KeyCode   string `json:"keyCode" validate:"required"`
	ProjectID int    `json:"projectId" validate:"required,gt=0"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	IP        string `json:"-"`
}

type RedeemResult struct {
	Success     bool               `json:"success"`
	Reason      Reason             `json:"reason,omitempty"`
	Message     string             `json:"message"`
	Key         *models.LicenseKey `json:"key,omitempty"`
	Redemption  *models.Redemption `json:"redemption,omitempty"`
	DownloadURL string             `json:"downloadUrl,omitempty"`
}

// CreateKeyRequest issues Quantity keys sharing the same policy
type CreateKeyRequest struct {
	ProjectID int            `json:"projectId" validate:"required,gt=0"`
	KeyType   models.KeyType `json:"keyType" validate:"required,oneof=single_use multi_use time_limited unlimited"`
	MaxUses   int            `json:"maxUses" validate:"omitempty,min=1"`
	ExpiresAt *time.Time     `json:"expiresAt"`
	Notes     string         `json:"notes" validate:"max=500"`
	Quantity  int            `json:"quantity" validate:"omitempty,min=1,max=100"`
}

type Analytics struct {
	TotalRedemptions  int                  `json:"totalRedemptions"`
	TotalDownloads    int                  `json:"totalDownloads"`
	RecentRedemptions []*models.Redemption `json:"recentRedemptions"`
	RedemptionsByType map[string]int       `json:"redemptionsByType"`
}

type UserRedemptionStatus struct {
	HasRedeemed bool               `json:"hasRedeemed"`
	Redemption  *RedemptionSummary `json:"redemption,omitempty"`
}

// RedemptionSummary is what an unauthenticated caller may learn about a
// redemption. It never carries the key code or the redeeming IP.
type RedemptionSummary struct {
	ID             int        `json:"id"`
	ProjectID      int        `json:"projectId"`
	KeyType        string     `json:"keyType"`
	DownloadCount  int        `json:"downloadCount"`
	RedeemedAt     time.Time  `json:"redeemedAt"`
	LastDownloadAt *time.Time `json:"lastDownloadAt,omitempty"`
}

type DownloadResult struct {
	RedemptionID   int       `json:"redemptionId"`
	DownloadCount  int       `json:"downloadCount"`
	LastDownloadAt time.Time `json:"lastDownloadAt"`
	DownloadURL    string    `json:"downloadUrl"`
}

type Option func(*LicenseKeyService)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *LicenseKeyService) { s.now = now }
}

func WithGenerator(g keygen.Generator) Option {
	return func(s *LicenseKeyService) { s.generate = g }
}

// WithIssueRetry bounds how often a key insert is retried after a collision or transient failure
func WithIssueRetry(attempts uint, delay time.Duration) Option {
	return func(s *LicenseKeyService) {
		s.issueAttempts = attempts
		s.issueDelay = delay
	}
}

func WithRecorder(r OutcomeRecorder) Option {
	return func(s *LicenseKeyService) { s.recorder = r }
}

// LicenseKeyService validates, redeems and issues license keys
type LicenseKeyService struct {
	db          *database.DB
	keys        *models.LicenseKeyStore
	redemptions *models.RedemptionStore
	projects    *ProjectService

	generate      keygen.Generator
	now           func() time.Time
	issueAttempts uint
	issueDelay    time.Duration
	recorder      OutcomeRecorder
}

func NewLicenseKeyService(db *database.DB, projects *ProjectService, opts ...Option) *LicenseKeyService {
	s := &LicenseKeyService{
		db:            db,
		keys:          models.NewLicenseKeyStore(db),
		redemptions:   models.NewRedemptionStore(db),
		projects:      projects,
		generate:      keygen.Generate,
		now:           time.Now,
		issueAttempts: defaultIssueAttempts,
		issueDelay:    defaultIssueDelay,
		recorder:      nopRecorder{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Validate checks a key against a project without consuming it
func (s *LicenseKeyService) Validate(ctx context.Context, keyCode string, projectID int) (*ValidationResult, error) {
	key, reason, err := s.check(ctx, keyCode, projectID)
	if err != nil {
		s.recorder.RecordOutcome(OperationValidate, outcomeLabel(err))
		return nil, fmt.Errorf("failed to validate license key: %w", err)
	}

	if reason != ReasonNone {
		s.recorder.RecordOutcome(OperationValidate, string(reason))
		log.Debug().
			Str("licenseKey", keygen.Mask(keygen.Normalize(keyCode))).
			Int("projectID", projectID).
			Str("reason", string(reason)).
			Msg("License key rejected")
		return &ValidationResult{Reason: reason, Message: reason.Message()}, nil
	}

	s.recorder.RecordOutcome(OperationValidate, OutcomeSuccess)
	return &ValidationResult{Valid: true, Message: MessageValid, Key: key}, nil
}

// check runs the validation rules in order and stops at the first failure
func (s *LicenseKeyService) check(ctx context.Context, keyCode string, projectID int) (*models.LicenseKey, Reason, error) {
	code := keygen.Normalize(keyCode)
	if !keygen.IsWellFormed(code) || projectID <= 0 {
		return nil, ReasonKeyNotFoundOrInactive, nil
	}

	key, err := s.keys.FindByCodeAndProject(ctx, code, projectID)
	if errors.Is(err, models.ErrLicenseKeyNotFound) {
		return nil, ReasonKeyNotFoundOrInactive, nil
	}
	if err != nil {
		return nil, ReasonNone, err
	}

	return key, evaluate(key, s.now()), nil
}

func evaluate(key *models.LicenseKey, now time.Time) Reason {
	if key.IsExpired(now) {
		return ReasonKeyExpired
	}

	switch key.KeyType {
	case models.KeyTypeUnlimited:
		return ReasonNone
	case models.KeyTypeSingleUse, models.KeyTypeMultiUse, models.KeyTypeTimeLimited:
		if key.CurrentUses >= key.MaxUses {
			return ReasonUsageLimitReached
		}
		return ReasonNone
	}

	return ReasonKeyNotFoundOrInactive
}

// Redeem consumes one use of a key and records who redeemed it. The increment
// and the redemption insert commit together; a redeem that loses the race for
// the last use reports USAGE_LIMIT_REACHED and writes nothing.
func (s *LicenseKeyService) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	key, reason, err := s.check(ctx, req.KeyCode, req.ProjectID)
	if err != nil {
		s.recorder.RecordOutcome(OperationRedeem, outcomeLabel(err))
		return nil, fmt.Errorf("failed to redeem license key: %w", err)
	}
	if reason != ReasonNone {
		s.recorder.RecordOutcome(OperationRedeem, string(reason))
		return &RedeemResult{Reason: reason, Message: reason.Message()}, nil
	}

	var redemption *models.Redemption
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		updated, err := s.keys.WithTx(tx).IncrementUses(ctx, key.ID)
		if err != nil {
			return err
		}

		created, err := s.redemptions.WithTx(tx).Create(ctx, &models.Redemption{
			LicenseKeyID:    updated.ID,
			ProjectID:       updated.ProjectID,
			RedeemedByEmail: optionalString(req.Email),
			RedeemedByIP:    optionalString(req.IP),
			RedeemedAt:      s.now(),
		})
		if err != nil {
			return err
		}

		key = updated
		redemption = created
		return nil
	})
	if err != nil {
		switch reason := ReasonFromError(err); reason {
		case ReasonUsageLimitReached, ReasonKeyNotFoundOrInactive:
			s.recorder.RecordOutcome(OperationRedeem, string(reason))
			return &RedeemResult{Reason: reason, Message: reason.Message()}, nil
		}
		s.recorder.RecordOutcome(OperationRedeem, outcomeLabel(err))
		return nil, fmt.Errorf("failed to redeem license key: %w", err)
	}

	s.recorder.RecordOutcome(OperationRedeem, OutcomeSuccess)

	result := &RedeemResult{
		Success:    true,
		Message:    MessageRedeemed,
		Key:        key,
		Redemption: redemption,
	}

	if project, err := s.projects.Get(ctx, key.ProjectID); err != nil {
		log.Warn().Err(err).Int("projectID", key.ProjectID).Msg("Failed to load project download link after redemption")
	} else {
		result.DownloadURL = project.DownloadURL
	}

	log.Info().
		Str("licenseKey", keygen.Mask(key.KeyCode)).
		Int("projectID", key.ProjectID).
		Int("redemptionID", redemption.ID).
		Int("currentUses", key.CurrentUses).
		Msg("License key redeemed")

	return result, nil
}

// CreateKeys issues a batch of keys. Each insert is retried with a fresh code on
// collision. On failure the keys created so far are returned along with the error.
func (s *LicenseKeyService) CreateKeys(ctx context.Context, req CreateKeyRequest) ([]*models.LicenseKey, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	template, err := s.keyTemplate(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.projects.Get(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}

	created := make([]*models.LicenseKey, 0, quantity)
	for i := 0; i < quantity; i++ {
		key, err := s.issueOne(ctx, template)
		if err != nil {
			s.recorder.RecordOutcome(OperationIssue, outcomeLabel(err))
			return created, fmt.Errorf("failed to create license key %d of %d: %w", i+1, quantity, err)
		}
		s.recorder.RecordOutcome(OperationIssue, OutcomeSuccess)
		created = append(created, key)
	}

	log.Info().
		Int("projectID", req.ProjectID).
		Str("keyType", string(req.KeyType)).
		Int("quantity", len(created)).
		Msg("License keys created")

	return created, nil
}

// keyTemplate applies the per-type defaults to a creation request
func (s *LicenseKeyService) keyTemplate(req CreateKeyRequest) (models.LicenseKey, error) {
	key := models.LicenseKey{
		ProjectID: req.ProjectID,
		KeyType:   req.KeyType,
		MaxUses:   req.MaxUses,
		Notes:     optionalString(strings.TrimSpace(req.Notes)),
	}

	if key.MaxUses == 0 {
		key.MaxUses = 1
	}

	switch req.KeyType {
	case models.KeyTypeSingleUse:
		key.MaxUses = 1
	case models.KeyTypeUnlimited:
		key.MaxUses = models.UnlimitedMaxUses
	case models.KeyTypeTimeLimited:
		if req.ExpiresAt == nil {
			return key, &ValidationError{Fields: map[string]string{"expiresAt": "is required for time_limited keys"}}
		}
	case models.KeyTypeMultiUse:
	default:
		return key, models.ErrInvalidKeyType
	}

	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		key.ExpiresAt = &expires
	}

	return key, nil
}

func (s *LicenseKeyService) issueOne(ctx context.Context, template models.LicenseKey) (*models.LicenseKey, error) {
	var created *models.LicenseKey

	err := retry.Do(
		func() error {
			code, err := s.generate()
			if err != nil {
				return err
			}

			candidate := template
			candidate.KeyCode = code
			candidate.CreatedAt = s.now()

			created, err = s.keys.Insert(ctx, &candidate)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.issueAttempts),
		retry.Delay(s.issueDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ReasonFromError(err).Retriable()
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying license key insert")
		}),
	)
	if err != nil {
		return nil, err
	}

	return created, nil
}

// SetKeyActive revokes or restores a key
func (s *LicenseKeyService) SetKeyActive(ctx context.Context, id int, active bool) (*models.LicenseKey, error) {
	key, err := s.keys.UpdateActive(ctx, id, active)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("keyID", key.ID).
		Str("licenseKey", keygen.Mask(key.KeyCode)).
		Bool("isActive", active).
		Msg("License key status changed")

	return key, nil
}

// ListKeys lists keys matching filter. A non-empty search keeps only keys whose
// code, project title or notes match it, best matches first.
func (s *LicenseKeyService) ListKeys(ctx context.Context, filter models.ListFilter, search string) ([]*models.LicenseKey, error) {
	keys, err := s.keys.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	search = strings.TrimSpace(search)
	if search == "" {
		return keys, nil
	}

	type keyMatch struct {
		key  *models.LicenseKey
		rank int
	}

	matches := make([]keyMatch, 0, len(keys))
	for _, key := range keys {
		targets := []string{key.KeyCode, key.ProjectTitle}
		if key.Notes != nil {
			targets = append(targets, *key.Notes)
		}

		best := -1
		for _, target := range targets {
			rank := fuzzy.RankMatchNormalizedFold(search, target)
			if rank >= 0 && (best < 0 || rank < best) {
				best = rank
			}
		}
		if best >= 0 {
			matches = append(matches, keyMatch{key: key, rank: best})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].rank < matches[j].rank
	})

	result := make([]*models.LicenseKey, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.key)
	}
	return result, nil
}

// GetAnalytics summarizes redemptions, optionally for one project. Redemptions
// of revoked keys are included.
func (s *LicenseKeyService) GetAnalytics(ctx context.Context, projectID *int) (*Analytics, error) {
	redemptions, err := s.redemptions.ListDetailed(ctx, models.RedemptionFilter{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load redemptions: %w", err)
	}

	analytics := &Analytics{
		TotalRedemptions:  len(redemptions),
		RecentRedemptions: make([]*models.Redemption, 0, recentRedemptions),
		RedemptionsByType: make(map[string]int),
	}

	for i, r := range redemptions {
		analytics.TotalDownloads += r.DownloadCount

		keyType := r.KeyType
		if keyType == "" {
			keyType = models.UnknownKeyType
		}
		analytics.RedemptionsByType[keyType]++

		if i < recentRedemptions {
			analytics.RecentRedemptions = append(analytics.RecentRedemptions, r)
		}
	}

	return analytics, nil
}

// CheckUserRedemption reports whether email has redeemed a key for the project
func (s *LicenseKeyService) CheckUserRedemption(ctx context.Context, projectID int, email string) (*UserRedemptionStatus, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return &UserRedemptionStatus{}, nil
	}

	redemption, err := s.redemptions.LatestForEmail(ctx, projectID, email)
	if errors.Is(err, models.ErrRedemptionNotFound) {
		return &UserRedemptionStatus{}, nil
	}
	if err != nil {
		return nil, err
	}

	return &UserRedemptionStatus{
		HasRedeemed: true,
		Redemption: &RedemptionSummary{
			ID:             redemption.ID,
			ProjectID:      redemption.ProjectID,
			KeyType:        redemption.KeyType,
			DownloadCount:  redemption.DownloadCount,
			RedeemedAt:     redemption.RedeemedAt,
			LastDownloadAt: redemption.LastDownloadAt,
		},
	}, nil
}

// TrackDownload counts a download against a redemption and returns the gated
// link. keyCode must be the key the redemption was made with.
func (s *LicenseKeyService) TrackDownload(ctx context.Context, redemptionID int, keyCode string) (*DownloadResult, error) {
	code := keygen.Normalize(keyCode)
	if !keygen.IsWellFormed(code) {
		return nil, models.ErrRedemptionNotFound
	}

	redemption, err := s.redemptions.IncrementDownload(ctx, redemptionID, code, s.now())
	if err != nil {
		return nil, err
	}

	project, err := s.projects.Get(ctx, redemption.ProjectID)
	if err != nil {
		return nil, err
	}

	result := &DownloadResult{
		RedemptionID:  redemption.ID,
		DownloadCount: redemption.DownloadCount,
		DownloadURL:   project.DownloadURL,
	}
	if redemption.LastDownloadAt != nil {
		result.LastDownloadAt = *redemption.LastDownloadAt
	}

	return result, nil
}

func outcomeLabel(err error) string {
	if reason := ReasonFromError(err); reason != ReasonNone {
		return string(reason)
	}
	return OutcomeError
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
