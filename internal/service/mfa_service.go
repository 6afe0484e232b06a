package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/database"
	"github.com/gatewarden/gatewarden/internal/email"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/repository"
)

// MFA service errors
var (
	ErrMFAAlreadyEnrolled  = errors.New("MFA method already enrolled")
	ErrMFANotEnrolled      = errors.New("MFA method not enrolled")
	ErrMFAInvalidCode      = errors.New("invalid MFA code")
	ErrMFASessionExpired   = errors.New("MFA session expired")
	ErrMFANoBackupCodes    = errors.New("no backup codes remaining")
	ErrMFACooldown         = errors.New("code was sent recently")
	ErrWebAuthnUnsupported = errors.New("WebAuthn is not configured")
	ErrEmailOTPDisabled    = errors.New("email codes are not enabled")
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8

	emailOTPKeyPrefix      = "gatewarden:email_otp:"
	emailOTPCooldownPrefix = "gatewarden:email_otp_cooldown:"
)

// BackupCodesResponse carries freshly generated backup codes. The plain
// codes exist only in this response; storage keeps hashes.
type BackupCodesResponse struct {
	Codes []string `json:"codes"`
	Count int      `json:"count"`
}

// MFAService handles second-factor enrollment and verification
type MFAService struct {
	mfaRepo  *repository.MFARepository
	userRepo *repository.UserRepository
	rdb      *database.Redis
	sender   email.Sender
	webauthn *webauthn.WebAuthn
	cfg      *config.Config
	log      *logger.Logger

	mu               sync.Mutex
	webauthnSessions map[string]*webauthnSessionEntry
}

type webauthnSessionEntry struct {
	UserID      string
	SessionData *webauthn.SessionData
	Type        string // "registration" or "authentication"
	ExpiresAt   time.Time
}

// NewMFAService creates a new MFAService
func NewMFAService(
	mfaRepo *repository.MFARepository,
	userRepo *repository.UserRepository,
	rdb *database.Redis,
	sender email.Sender,
	cfg *config.Config,
	log *logger.Logger,
) (*MFAService, error) {
	svc := &MFAService{
		mfaRepo:          mfaRepo,
		userRepo:         userRepo,
		rdb:              rdb,
		sender:           sender,
		cfg:              cfg,
		log:              log.WithComponent("mfa_service"),
		webauthnSessions: make(map[string]*webauthnSessionEntry),
	}

	if cfg.MFA.WebAuthn.RPID != "" {
		wconfig := &webauthn.Config{
			RPID:                  cfg.MFA.WebAuthn.RPID,
			RPDisplayName:         cfg.MFA.WebAuthn.RPName,
			RPOrigins:             cfg.MFA.WebAuthn.RPOrigins,
			AttestationPreference: protocol.PreferNoAttestation,
			AuthenticatorSelection: protocol.AuthenticatorSelection{
				UserVerification: protocol.VerificationPreferred,
			},
		}

		var err error
		svc.webauthn, err = webauthn.New(wconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize WebAuthn: %w", err)
		}
	}

	return svc, nil
}

// Verify validates a second-factor proof of the given kind. WebAuthn runs
// its own ceremony endpoints and is not verifiable through a code.
func (s *MFAService) Verify(ctx context.Context, userID string, method model.MFAMethodType, code string) error {
	switch method {
	case model.MFAMethodTOTP:
		return s.VerifyTOTP(ctx, userID, code)
	case model.MFAMethodBackupCode:
		return s.VerifyBackupCode(ctx, userID, code)
	case model.MFAMethodEmailOTP:
		return s.VerifyEmailOTP(ctx, userID, code)
	}
	return ErrMFAInvalidCode
}

// HasVerifiedMethod reports whether the user has completed enrollment of at
// least one second factor.
func (s *MFAService) HasVerifiedMethod(ctx context.Context, userID string) (bool, error) {
	methods, err := s.mfaRepo.ListMethods(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list MFA methods: %w", err)
	}
	for _, m := range methods {
		if m.Verified {
			return true, nil
		}
	}
	return false, nil
}

// AvailableMethods returns the user's verified method types and the
// preferred one, if marked.
func (s *MFAService) AvailableMethods(ctx context.Context, userID string) ([]model.MFAMethodType, *model.MFAMethodType, error) {
	methods, err := s.mfaRepo.ListMethods(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list MFA methods: %w", err)
	}

	var available []model.MFAMethodType
	var preferred *model.MFAMethodType
	for _, m := range methods {
		if !m.Verified {
			continue
		}
		available = append(available, m.Method)
		if m.IsPrimary {
			method := m.Method
			preferred = &method
		}
	}

	codes, err := s.mfaRepo.ListUnusedBackupCodes(ctx, userID)
	if err == nil && len(codes) > 0 {
		available = append(available, model.MFAMethodBackupCode)
	}

	return available, preferred, nil
}

// ListMethods returns enrollment info without secrets
func (s *MFAService) ListMethods(ctx context.Context, userID string) ([]model.MFAMethodInfo, error) {
	methods, err := s.mfaRepo.ListMethods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MFA methods: %w", err)
	}

	infos := make([]model.MFAMethodInfo, 0, len(methods))
	for _, m := range methods {
		infos = append(infos, model.MFAMethodInfo{
			Method:    m.Method,
			Verified:  m.Verified,
			IsPrimary: m.IsPrimary,
			LastUsed:  m.LastUsed,
			CreatedAt: m.CreatedAt,
		})
	}
	return infos, nil
}

// --- TOTP ---

// SetupTOTP generates a TOTP secret and QR code. The enrollment stays
// unverified, and grants nothing, until the first code is confirmed.
func (s *MFAService) SetupTOTP(ctx context.Context, userID string) (*model.MFASetupResponse, error) {
	existing, err := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodTOTP)
	if err == nil {
		if existing.Verified {
			return nil, ErrMFAAlreadyEnrolled
		}
		// Abandoned setup, start over.
		if err := s.mfaRepo.DeleteMethod(ctx, userID, model.MFAMethodTOTP); err != nil {
			return nil, fmt.Errorf("failed to clear pending TOTP setup: %w", err)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check TOTP enrollment: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	issuer := s.cfg.MFA.TOTP.Issuer
	if issuer == "" {
		issuer = "Gatewarden"
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
		Period:      uint(s.cfg.MFA.TOTP.Period),
		Digits:      otp.Digits(s.cfg.MFA.TOTP.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qrPNG, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	now := time.Now()
	method := &model.MFAMethod{
		ID:        generateID("mfa"),
		UserID:    userID,
		Method:    model.MFAMethodTOTP,
		Secret:    []byte(key.Secret()),
		CreatedAt: now,
	}
	if err := s.mfaRepo.CreateMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to store TOTP method: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("TOTP setup initiated")

	return &model.MFASetupResponse{
		Secret:    key.Secret(),
		QRCode:    base64.StdEncoding.EncodeToString(qrPNG),
		Issuer:    issuer,
		AccountID: user.Email,
	}, nil
}

// VerifyTOTPSetup confirms the initial code and activates the enrollment
func (s *MFAService) VerifyTOTPSetup(ctx context.Context, userID, code string) error {
	method, err := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodTOTP)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMFANotEnrolled
		}
		return fmt.Errorf("failed to get TOTP method: %w", err)
	}

	if !totp.Validate(code, string(method.Secret)) {
		return ErrMFAInvalidCode
	}

	if err := s.mfaRepo.MarkVerified(ctx, method.ID); err != nil {
		return fmt.Errorf("failed to activate TOTP method: %w", err)
	}
	if err := s.userRepo.SetMFAEnabled(ctx, userID, true); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to flag MFA enabled")
	}

	methods, err := s.mfaRepo.ListMethods(ctx, userID)
	if err == nil && len(methods) == 1 {
		if err := s.mfaRepo.SetPrimary(ctx, userID, method.ID); err != nil {
			s.log.Error().Err(err).Msg("failed to set TOTP as primary")
		}
	}

	s.log.Info().Str("user_id", userID).Msg("TOTP setup verified and activated")
	return nil
}

// VerifyTOTP validates a TOTP code for authentication
func (s *MFAService) VerifyTOTP(ctx context.Context, userID, code string) error {
	method, err := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodTOTP)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMFANotEnrolled
		}
		return fmt.Errorf("failed to get TOTP method: %w", err)
	}
	if !method.Verified {
		return ErrMFANotEnrolled
	}

	if !totp.Validate(code, string(method.Secret)) {
		return ErrMFAInvalidCode
	}

	if err := s.mfaRepo.TouchLastUsed(ctx, method.ID, time.Now()); err != nil {
		s.log.Error().Err(err).Msg("failed to update TOTP last used")
	}
	return nil
}

// --- WebAuthn ---

type webauthnUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.id }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

type webauthnCredData struct {
	Credentials []webauthn.Credential `json:"credentials"`
}

// BeginWebAuthnRegistration starts the registration ceremony
func (s *MFAService) BeginWebAuthnRegistration(ctx context.Context, userID string) (interface{}, error) {
	if s.webauthn == nil {
		return nil, ErrWebAuthnUnsupported
	}

	wUser, err := s.webauthnUserFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	creation, session, err := s.webauthn.BeginRegistration(wUser)
	if err != nil {
		return nil, fmt.Errorf("failed to begin WebAuthn registration: %w", err)
	}

	sessionKey := s.storeWebauthnSession(userID, session, "registration")

	return map[string]interface{}{
		"publicKey":  creation,
		"sessionKey": sessionKey,
	}, nil
}

// CompleteWebAuthnRegistration finishes the registration ceremony and stores
// the credential.
func (s *MFAService) CompleteWebAuthnRegistration(ctx context.Context, userID, sessionKey string, body protocol.ParsedCredentialCreationData) error {
	if s.webauthn == nil {
		return ErrWebAuthnUnsupported
	}

	sessionData, err := s.takeWebauthnSession(userID, sessionKey, "registration")
	if err != nil {
		return err
	}

	wUser, err := s.webauthnUserFor(ctx, userID)
	if err != nil {
		return err
	}

	credential, err := s.webauthn.CreateCredential(wUser, *sessionData, &body)
	if err != nil {
		return fmt.Errorf("WebAuthn registration failed: %w", err)
	}

	var data webauthnCredData
	method, getErr := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodWebAuthn)
	if getErr == nil && method.CredentialData != nil {
		json.Unmarshal(method.CredentialData, &data)
	}
	data.Credentials = append(data.Credentials, *credential)

	credDataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal credential data: %w", err)
	}

	if getErr == nil {
		if err := s.mfaRepo.UpdateCredentialData(ctx, method.ID, credDataJSON); err != nil {
			return fmt.Errorf("failed to update WebAuthn credentials: %w", err)
		}
	} else {
		newMethod := &model.MFAMethod{
			ID:             generateID("mfa"),
			UserID:         userID,
			Method:         model.MFAMethodWebAuthn,
			CredentialData: credDataJSON,
			Verified:       true,
			CreatedAt:      time.Now(),
		}
		if err := s.mfaRepo.CreateMethod(ctx, newMethod); err != nil {
			return fmt.Errorf("failed to store WebAuthn method: %w", err)
		}
	}

	if err := s.userRepo.SetBiometricEnabled(ctx, userID, true); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to flag biometric enabled")
	}
	if err := s.userRepo.SetMFAEnabled(ctx, userID, true); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to flag MFA enabled")
	}

	s.log.Info().Str("user_id", userID).Msg("WebAuthn credential registered")
	return nil
}

// BeginWebAuthnAuthentication starts the assertion ceremony
func (s *MFAService) BeginWebAuthnAuthentication(ctx context.Context, userID string) (interface{}, error) {
	if s.webauthn == nil {
		return nil, ErrWebAuthnUnsupported
	}

	wUser, err := s.webauthnUserFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wUser.credentials) == 0 {
		return nil, ErrMFANotEnrolled
	}

	assertion, session, err := s.webauthn.BeginLogin(wUser)
	if err != nil {
		return nil, fmt.Errorf("failed to begin WebAuthn authentication: %w", err)
	}

	sessionKey := s.storeWebauthnSession(userID, session, "authentication")

	return map[string]interface{}{
		"publicKey":  assertion,
		"sessionKey": sessionKey,
	}, nil
}

// CompleteWebAuthnAuthentication finishes the assertion ceremony
func (s *MFAService) CompleteWebAuthnAuthentication(ctx context.Context, userID, sessionKey string, body protocol.ParsedCredentialAssertionData) error {
	if s.webauthn == nil {
		return ErrWebAuthnUnsupported
	}

	sessionData, err := s.takeWebauthnSession(userID, sessionKey, "authentication")
	if err != nil {
		return err
	}

	wUser, err := s.webauthnUserFor(ctx, userID)
	if err != nil {
		return err
	}

	credential, err := s.webauthn.ValidateLogin(wUser, *sessionData, &body)
	if err != nil {
		return ErrMFAInvalidCode
	}

	// Persist the updated sign counter.
	method, mErr := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodWebAuthn)
	if mErr == nil {
		var data webauthnCredData
		if method.CredentialData != nil {
			json.Unmarshal(method.CredentialData, &data)
		}
		for i := range data.Credentials {
			if string(data.Credentials[i].ID) == string(credential.ID) {
				data.Credentials[i] = *credential
			}
		}
		if updated, err := json.Marshal(data); err == nil {
			s.mfaRepo.UpdateCredentialData(ctx, method.ID, updated)
		}
		s.mfaRepo.TouchLastUsed(ctx, method.ID, time.Now())
	}

	s.log.Info().Str("user_id", userID).Msg("WebAuthn authentication successful")
	return nil
}

func (s *MFAService) webauthnUserFor(ctx context.Context, userID string) (*webauthnUser, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var creds []webauthn.Credential
	method, err := s.mfaRepo.GetMethod(ctx, userID, model.MFAMethodWebAuthn)
	if err == nil && method.CredentialData != nil {
		var data webauthnCredData
		if err := json.Unmarshal(method.CredentialData, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal WebAuthn credentials: %w", err)
		}
		creds = data.Credentials
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get WebAuthn method: %w", err)
	}

	return &webauthnUser{
		id:          []byte(userID),
		name:        user.Email,
		displayName: user.Username,
		credentials: creds,
	}, nil
}

func (s *MFAService) storeWebauthnSession(userID string, session *webauthn.SessionData, kind string) string {
	key, _ := randomHex(16)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Drop expired entries while we hold the lock.
	now := time.Now()
	for k, entry := range s.webauthnSessions {
		if now.After(entry.ExpiresAt) {
			delete(s.webauthnSessions, k)
		}
	}
	s.webauthnSessions[key] = &webauthnSessionEntry{
		UserID:      userID,
		SessionData: session,
		Type:        kind,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	return key
}

func (s *MFAService) takeWebauthnSession(userID, key, kind string) (*webauthn.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.webauthnSessions[key]
	if !ok || entry.UserID != userID || entry.Type != kind || time.Now().After(entry.ExpiresAt) {
		return nil, ErrMFASessionExpired
	}
	delete(s.webauthnSessions, key)
	return entry.SessionData, nil
}

// --- Email one-time codes ---

// SendEmailOTP generates a short-lived numeric code and emails it. Resends
// are throttled by the configured cooldown.
func (s *MFAService) SendEmailOTP(ctx context.Context, userID string) error {
	if !s.cfg.MFA.EmailOTP.Enabled || s.sender == nil {
		return ErrEmailOTPDisabled
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	cooldownKey := emailOTPCooldownPrefix + userID
	if _, err := s.rdb.GetString(ctx, cooldownKey); err == nil {
		return ErrMFACooldown
	}

	code, err := randomDigits(s.cfg.MFA.EmailOTP.Length)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	hash := sha256.Sum256([]byte(code))
	if err := s.rdb.SetWithTTL(ctx, emailOTPKeyPrefix+userID, hex.EncodeToString(hash[:]), s.cfg.MFA.EmailOTP.TTL); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}
	if err := s.rdb.SetWithTTL(ctx, cooldownKey, "1", s.cfg.MFA.EmailOTP.Cooldown); err != nil {
		s.log.Error().Err(err).Msg("failed to set code cooldown")
	}

	msg := email.NewOTPMessage(s.cfg.Email.AppName, user.Email, code, s.cfg.MFA.EmailOTP.TTL)
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send code: %w", err)
	}

	s.log.Info().Str("user_id", userID).Msg("email code sent")
	return nil
}

// VerifyEmailOTP validates and consumes an emailed code
func (s *MFAService) VerifyEmailOTP(ctx context.Context, userID, code string) error {
	if !s.cfg.MFA.EmailOTP.Enabled {
		return ErrEmailOTPDisabled
	}

	key := emailOTPKeyPrefix + userID
	stored, err := s.rdb.GetString(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMFAInvalidCode
		}
		return fmt.Errorf("failed to load code: %w", err)
	}

	hash := sha256.Sum256([]byte(strings.TrimSpace(code)))
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hex.EncodeToString(hash[:]))) != 1 {
		return ErrMFAInvalidCode
	}

	// Single use.
	if err := s.rdb.Delete(ctx, key); err != nil {
		s.log.Error().Err(err).Msg("failed to delete consumed code")
	}
	return nil
}

// --- Backup codes ---

// GenerateBackupCodes replaces the user's backup codes with a fresh set
func (s *MFAService) GenerateBackupCodes(ctx context.Context, userID string) (*BackupCodesResponse, error) {
	hasMFA, err := s.HasVerifiedMethod(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasMFA {
		return nil, ErrMFANotEnrolled
	}

	now := time.Now()
	plainCodes := make([]string, backupCodeCount)
	dbCodes := make([]*model.BackupCode, backupCodeCount)

	for i := 0; i < backupCodeCount; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		plainCodes[i] = code

		hash := sha256.Sum256([]byte(normalizeBackupCode(code)))
		dbCodes[i] = &model.BackupCode{
			ID:        generateID("bkp"),
			UserID:    userID,
			CodeHash:  hex.EncodeToString(hash[:]),
			CreatedAt: now,
		}
	}

	if err := s.mfaRepo.ReplaceBackupCodes(ctx, userID, dbCodes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	s.log.Info().Str("user_id", userID).Int("count", backupCodeCount).Msg("backup codes generated")

	return &BackupCodesResponse{Codes: plainCodes, Count: backupCodeCount}, nil
}

// VerifyBackupCode validates and consumes a backup code
func (s *MFAService) VerifyBackupCode(ctx context.Context, userID, code string) error {
	codes, err := s.mfaRepo.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get backup codes: %w", err)
	}
	if len(codes) == 0 {
		return ErrMFANoBackupCodes
	}

	inputHash := sha256.Sum256([]byte(normalizeBackupCode(code)))
	inputHashStr := hex.EncodeToString(inputHash[:])

	for _, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c.CodeHash), []byte(inputHashStr)) == 1 {
			if err := s.mfaRepo.ConsumeBackupCode(ctx, c.ID, time.Now()); err != nil {
				return fmt.Errorf("failed to consume backup code: %w", err)
			}
			s.log.Info().Str("user_id", userID).Msg("backup code used")
			return nil
		}
	}

	return ErrMFAInvalidCode
}

// DisableMethod removes an enrollment. When no verified method remains the
// account's MFA flag is cleared, which makes the admin gate deny it under
// the two-factor policy.
func (s *MFAService) DisableMethod(ctx context.Context, userID string, method model.MFAMethodType) error {
	if err := s.mfaRepo.DeleteMethod(ctx, userID, method); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMFANotEnrolled
		}
		return fmt.Errorf("failed to delete MFA method: %w", err)
	}

	if method == model.MFAMethodWebAuthn {
		if err := s.userRepo.SetBiometricEnabled(ctx, userID, false); err != nil {
			s.log.Error().Err(err).Msg("failed to clear biometric flag")
		}
	}

	hasMFA, err := s.HasVerifiedMethod(ctx, userID)
	if err == nil && !hasMFA {
		if err := s.userRepo.SetMFAEnabled(ctx, userID, false); err != nil {
			s.log.Error().Err(err).Msg("failed to clear MFA flag")
		}
	}

	s.log.Info().Str("user_id", userID).Str("method", string(method)).Msg("MFA method disabled")
	return nil
}

// --- Helpers ---

func generateBackupCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	code := make([]byte, backupCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

func randomDigits(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func randomHex(bytes int) (string, error) {
	raw := make([]byte, bytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
