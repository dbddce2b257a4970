package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrProviderNotFound    = errors.New("core: provider not found")
	ErrNoActiveConnection  = errors.New("core: no active connection")
	ErrRefreshTokenMissing = errors.New("core: refresh token is missing")
)

// Service owns the OAuth lifecycle of per-user CRM connections. Construct it
// with NewService; every collaborator is injected so callers can scope one
// instance per tenant or per test.
type Service struct {
	config                  Config
	logger                  Logger
	loggerProvider          LoggerProvider
	metricsRecorder         MetricsRecorder
	errorFactory            ErrorFactory
	errorMapper             ErrorMapper
	secretProvider          SecretProvider
	persistenceClient       any
	repositoryFactory       any
	configProvider          ConfigProvider
	optionsResolver         OptionsResolver
	stateStore              StateStore
	connectionLocker        ConnectionLocker
	refreshBackoffScheduler RefreshBackoffScheduler
	signer                  Signer
	registry                Registry
	connectionStore         ConnectionStore
	telemetry               TelemetrySink
	locationResolver        LocationResolver
	nowFn                   func() time.Time
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	SecretProvider   SecretProvider
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	StateStore       StateStore
	ConnectionLocker ConnectionLocker
	RefreshScheduler RefreshBackoffScheduler
	Signer           Signer
	Registry         Registry
	ConnectionStore  ConnectionStore
	TelemetrySink    TelemetrySink
	LocationResolver LocationResolver
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("crm-connect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("crm-connect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.refreshScheduler == nil {
		builder.refreshScheduler = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	if builder.signer == nil {
		builder.signer = BearerTokenSigner{}
	}
	if builder.nowFn == nil {
		builder.nowFn = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil &&
		(builder.connectionStore == nil || builder.stateStore == nil || builder.telemetry == nil) {
		var storeProvider StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			storeProvider = built
		} else if typed, ok := builder.repositoryFactory.(StoreProvider); ok {
			storeProvider = typed
		}
		if storeProvider != nil {
			if builder.connectionStore == nil {
				builder.connectionStore = storeProvider.ConnectionStore()
			}
			if builder.stateStore == nil {
				builder.stateStore = storeProvider.StateStore()
			}
			if builder.telemetry == nil {
				builder.telemetry = storeProvider.TelemetrySink()
			}
		}
	}
	if builder.stateStore == nil {
		builder.stateStore = NewMemoryStateStore(finalConfig.OAuth.StateTTL)
	}

	return &Service{
		config:                  finalConfig,
		logger:                  logger,
		loggerProvider:          provider,
		metricsRecorder:         builder.metricsRecorder,
		errorFactory:            builder.errorFactory,
		errorMapper:             builder.errorMapper,
		secretProvider:          builder.secretProvider,
		persistenceClient:       builder.persistenceClient,
		repositoryFactory:       builder.repositoryFactory,
		configProvider:          builder.configProvider,
		optionsResolver:         builder.optionsResolver,
		stateStore:              builder.stateStore,
		connectionLocker:        builder.connectionLocker,
		refreshBackoffScheduler: builder.refreshScheduler,
		signer:                  builder.signer,
		registry:                builder.registry,
		connectionStore:         builder.connectionStore,
		telemetry:               builder.telemetry,
		locationResolver:        builder.locationResolver,
		nowFn:                   builder.nowFn,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		SecretProvider:   s.secretProvider,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		StateStore:       s.stateStore,
		ConnectionLocker: s.connectionLocker,
		RefreshScheduler: s.refreshBackoffScheduler,
		Signer:           s.signer,
		Registry:         s.registry,
		ConnectionStore:  s.connectionStore,
		TelemetrySink:    s.telemetry,
		LocationResolver: s.locationResolver,
	}
}

type BeginAuthorizationRequest struct {
	ProviderID  string
	UserID      string
	AdminID     string
	RedirectURI string
	Scopes      []string
	Metadata    map[string]any
}

// BeginAuthorization mints a single-use state token, persists it, and returns
// the provider's authorize URL. No token-endpoint traffic happens here.
func (s *Service) BeginAuthorization(ctx context.Context, req BeginAuthorizationRequest) (response BeginAuthResponse, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "begin_authorization", err, fields)
	}()

	if strings.TrimSpace(req.UserID) == "" {
		err = s.mapError(fmt.Errorf("core: user id is required"))
		return BeginAuthResponse{}, err
	}
	provider, err := s.resolveProvider(req.ProviderID)
	if err != nil {
		return BeginAuthResponse{}, err
	}

	token, err := GenerateStateToken()
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}

	response, err = provider.BeginAuth(ctx, BeginAuthRequest{
		ProviderID:  req.ProviderID,
		UserID:      req.UserID,
		RedirectURI: req.RedirectURI,
		State:       token,
		Scopes:      req.Scopes,
		Metadata:    req.Metadata,
	})
	if err != nil {
		err = s.mapError(err)
		return BeginAuthResponse{}, err
	}
	if strings.TrimSpace(response.State) == "" {
		response.State = token
	}

	if s.stateStore != nil {
		now := s.now()
		saveErr := s.stateStore.Save(ctx, AuthorizationState{
			Token:       response.State,
			ProviderID:  req.ProviderID,
			UserID:      req.UserID,
			AdminID:     req.AdminID,
			RedirectURI: req.RedirectURI,
			Metadata:    copyAnyMap(req.Metadata),
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.stateTTL()),
		})
		if saveErr != nil {
			err = s.mapError(saveErr)
			return BeginAuthResponse{}, err
		}
	}

	return response, nil
}

type StateClaims struct {
	ProviderID  string
	UserID      string
	AdminID     string
	RedirectURI string
	Metadata    map[string]any
}

// ValidateState redeems a state token exactly once. Missing or expired tokens
// are not errors; they report ok=false so callers can reject the callback.
func (s *Service) ValidateState(ctx context.Context, token string) (claims StateClaims, ok bool, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		fields["valid"] = ok
		s.observeOperation(ctx, startedAt, "validate_state", err, fields)
	}()

	if strings.TrimSpace(token) == "" {
		err = s.mapError(fmt.Errorf("core: authorization state token is required"))
		return StateClaims{}, false, err
	}
	if s.stateStore == nil {
		err = s.mapError(fmt.Errorf("core: state store is not configured"))
		return StateClaims{}, false, err
	}

	record, consumeErr := s.stateStore.Consume(ctx, token)
	if consumeErr != nil {
		if errors.Is(consumeErr, ErrStateNotFound) || errors.Is(consumeErr, ErrStateExpired) {
			return StateClaims{}, false, nil
		}
		err = s.mapError(consumeErr)
		return StateClaims{}, false, err
	}

	fields["provider_id"] = record.ProviderID
	fields["user_id"] = record.UserID
	return StateClaims{
		ProviderID:  record.ProviderID,
		UserID:      record.UserID,
		AdminID:     record.AdminID,
		RedirectURI: record.RedirectURI,
		Metadata:    copyAnyMap(record.Metadata),
	}, true, nil
}

type CompleteAuthorizationRequest struct {
	ProviderID  string
	UserID      string
	Code        string
	RedirectURI string
	// State is optional here: dashboards that already called ValidateState
	// pass an empty value; handlers that skipped it pass the raw token and
	// get consume-and-match semantics.
	State    string
	Metadata map[string]any
}

// CompleteAuthorization exchanges the authorization code and upserts the
// active connection for (user, provider). Nothing is persisted when the
// exchange fails.
func (s *Service) CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (connection Connection, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		if connection.ID != "" {
			fields["connection_id"] = connection.ID
		}
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	if strings.TrimSpace(req.UserID) == "" {
		err = s.mapError(fmt.Errorf("core: user id is required"))
		return Connection{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		err = s.mapError(fmt.Errorf("core: authorization code is required"))
		return Connection{}, err
	}
	if s.config.OAuth.RequireCallbackRedirect && strings.TrimSpace(req.RedirectURI) == "" {
		err = s.mapError(fmt.Errorf("core: callback redirect uri is required"))
		return Connection{}, err
	}
	if err = s.validateCallbackState(ctx, req); err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	provider, err := s.resolveProvider(req.ProviderID)
	if err != nil {
		return Connection{}, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return Connection{}, err
	}

	result, exchangeErr := provider.CompleteAuth(ctx, CompleteAuthRequest{
		ProviderID:  req.ProviderID,
		UserID:      req.UserID,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
		Metadata:    req.Metadata,
	})
	if exchangeErr != nil {
		s.recordIntegrationError(ctx, req.ProviderID, req.UserID, "oauth_exchange", exchangeErr, req.Metadata)
		err = s.mapError(exchangeErr)
		return Connection{}, err
	}

	cred := result.Credential
	if strings.TrimSpace(cred.AccessToken) == "" {
		err = s.mapError(fmt.Errorf("core: provider returned no access token"))
		return Connection{}, err
	}

	encryptedAccess, err := s.encryptToken(ctx, cred.AccessToken)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	encryptedRefresh, err := s.encryptToken(ctx, cred.RefreshToken)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	connection, err = s.connectionStore.Upsert(ctx, UpsertConnectionInput{
		ProviderID:     req.ProviderID,
		UserID:         req.UserID,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenType:      cred.TokenType,
		TokenExpiresAt: cloneTime(cred.ExpiresAt),
		LocationID:     cred.LocationID,
		CompanyID:      cred.CompanyID,
		ExternalUserID: cred.ExternalUserID,
		Status:         ConnectionStatusActive,
	})
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	s.recordTelemetryEvent(ctx, TelemetryEvent{
		ProviderID:     connection.ProviderID,
		UserID:         connection.UserID,
		EventType:      EventTypeConnected,
		LocationID:     connection.LocationID,
		LocationName:   connection.LocationName,
		TokenExpiresAt: cloneTime(connection.TokenExpiresAt),
	})

	connection = s.backfillLocationName(ctx, connection, cred)

	return connection, nil
}

func (s *Service) validateCallbackState(ctx context.Context, req CompleteAuthorizationRequest) error {
	if s == nil || s.stateStore == nil {
		return nil
	}
	token := strings.TrimSpace(req.State)
	if token == "" {
		return nil
	}

	record, err := s.stateStore.Consume(ctx, token)
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(record.ProviderID), strings.TrimSpace(req.ProviderID)) {
		return fmt.Errorf("core: authorization state provider mismatch")
	}
	if record.UserID != "" && strings.TrimSpace(record.UserID) != strings.TrimSpace(req.UserID) {
		return fmt.Errorf("core: authorization state user mismatch")
	}
	savedRedirect := strings.TrimSpace(record.RedirectURI)
	requestRedirect := strings.TrimSpace(req.RedirectURI)
	if savedRedirect != "" && requestRedirect != "" && savedRedirect != requestRedirect {
		return fmt.Errorf("core: authorization state redirect mismatch")
	}
	return nil
}

type RefreshRequest struct {
	ProviderID string
	UserID     string
}

// Refresh runs the refresh_token grant for the user's connection. A missing
// refresh token or a token-endpoint rejection expires the connection; the
// caller gets the error either way.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (connection Connection, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		if connection.ID != "" {
			fields["connection_id"] = connection.ID
		}
		s.observeOperation(ctx, startedAt, "refresh", err, fields)
	}()

	if strings.TrimSpace(req.UserID) == "" {
		err = s.mapError(fmt.Errorf("core: user id is required"))
		return Connection{}, err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return Connection{}, err
	}

	lockKey := connectionLockKey(req.ProviderID, req.UserID)
	unlock := func() {}
	if s.connectionLocker != nil && !isRefreshLockHeld(ctx, lockKey) {
		lockHandle, lockErr := s.connectionLocker.Acquire(ctx, lockKey, defaultRefreshLockTTL)
		if lockErr != nil {
			err = s.mapError(lockErr)
			return Connection{}, err
		}
		ctx = context.WithValue(ctx, refreshLockContextKey{}, lockKey)
		unlock = func() {
			_ = lockHandle.Unlock(ctx)
		}
	}
	defer unlock()

	stored, found, err := s.connectionStore.Get(ctx, req.ProviderID, req.UserID)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	if !found || stored.Status == ConnectionStatusDisconnected {
		err = s.noActiveConnectionError(req.ProviderID, req.UserID)
		return Connection{}, err
	}

	cred, err := s.connectionCredential(ctx, stored)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	if strings.TrimSpace(cred.RefreshToken) == "" {
		s.expireConnection(ctx, stored, ErrRefreshTokenMissing)
		err = s.mapError(goerrors.Wrap(ErrRefreshTokenMissing, goerrors.CategoryAuth, "core: refresh token is missing").
			WithTextCode(ConnectErrorRefreshFailed))
		return Connection{}, err
	}

	provider, err := s.resolveProvider(req.ProviderID)
	if err != nil {
		return Connection{}, err
	}

	result, refreshErr := provider.Refresh(ctx, cred)
	if refreshErr != nil {
		s.recordIntegrationError(ctx, req.ProviderID, req.UserID, "token_refresh", refreshErr, nil)
		if isTokenEndpointRejection(refreshErr) {
			s.expireConnection(ctx, stored, refreshErr)
		} else {
			s.recordTelemetryEvent(ctx, TelemetryEvent{
				ProviderID: stored.ProviderID,
				UserID:     stored.UserID,
				EventType:  EventTypeRefreshFailed,
				LocationID: stored.LocationID,
				Error:      refreshErr.Error(),
			})
		}
		err = s.mapError(refreshErr)
		return Connection{}, err
	}

	next := result.Credential
	if strings.TrimSpace(next.RefreshToken) == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if strings.TrimSpace(next.LocationID) == "" {
		next.LocationID = stored.LocationID
	}
	if strings.TrimSpace(next.CompanyID) == "" {
		next.CompanyID = stored.CompanyID
	}
	if strings.TrimSpace(next.ExternalUserID) == "" {
		next.ExternalUserID = stored.ExternalUserID
	}

	encryptedAccess, err := s.encryptToken(ctx, next.AccessToken)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	encryptedRefresh, err := s.encryptToken(ctx, next.RefreshToken)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	connection, err = s.connectionStore.Upsert(ctx, UpsertConnectionInput{
		ProviderID:     stored.ProviderID,
		UserID:         stored.UserID,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenType:      next.TokenType,
		TokenExpiresAt: cloneTime(next.ExpiresAt),
		LocationID:     next.LocationID,
		LocationName:   stored.LocationName,
		CompanyID:      next.CompanyID,
		ExternalUserID: next.ExternalUserID,
		Status:         ConnectionStatusActive,
	})
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	s.recordTelemetryEvent(ctx, TelemetryEvent{
		ProviderID:     connection.ProviderID,
		UserID:         connection.UserID,
		EventType:      EventTypeTokenRefreshed,
		LocationID:     connection.LocationID,
		LocationName:   connection.LocationName,
		TokenExpiresAt: cloneTime(connection.TokenExpiresAt),
	})

	return connection, nil
}

// AccessToken returns a token valid for at least the lead window. Fast path
// is a single read; a near-expiry token triggers exactly one refresh attempt.
func (s *Service) AccessToken(ctx context.Context, providerID string, userID string) (token string, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "access_token", err, fields)
	}()

	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return "", err
	}
	connection, found, err := s.connectionStore.GetActive(ctx, providerID, userID)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	if !found {
		err = s.noActiveConnectionError(providerID, userID)
		return "", err
	}

	cred, err := s.connectionCredential(ctx, connection)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}

	now := s.now()
	state := ResolveTokenState(now, cred, s.expiringSoonWindow())
	if state.HasAccessToken && !state.IsExpired && !state.IsExpiringSoon {
		s.touchLastUsed(ctx, connection)
		return cred.AccessToken, nil
	}
	// A stored row without an access token is not a usable connection; the
	// look-ahead refresh only applies to tokens that exist and are aging out.
	if !state.HasAccessToken {
		err = s.noActiveConnectionError(providerID, userID)
		return "", err
	}

	fields["refresh_attempted"] = true
	if !state.HasRefreshToken {
		s.expireConnection(ctx, connection, ErrRefreshTokenMissing)
		err = s.noActiveConnectionError(providerID, userID)
		return "", err
	}

	refreshed, refreshErr := s.Refresh(ctx, RefreshRequest{ProviderID: providerID, UserID: userID})
	if refreshErr != nil {
		err = refreshErr
		return "", err
	}

	access, err := s.decryptToken(ctx, refreshed.AccessToken)
	if err != nil {
		err = s.mapError(err)
		return "", err
	}
	if strings.TrimSpace(access) == "" {
		err = s.noActiveConnectionError(providerID, userID)
		return "", err
	}
	s.touchLastUsed(ctx, refreshed)
	return access, nil
}

// Disconnect removes the user's connection. Removing a connection that does
// not exist is a no-op.
func (s *Service) Disconnect(ctx context.Context, providerID string, userID string) (err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if strings.TrimSpace(userID) == "" {
		err = s.mapError(fmt.Errorf("core: user id is required"))
		return err
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return err
	}

	connection, found, err := s.connectionStore.Get(ctx, providerID, userID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	if !found {
		return nil
	}

	if err = s.connectionStore.Delete(ctx, providerID, userID); err != nil {
		err = s.mapError(err)
		return err
	}

	s.recordTelemetryEvent(ctx, TelemetryEvent{
		ProviderID:   connection.ProviderID,
		UserID:       connection.UserID,
		EventType:    EventTypeDisconnected,
		LocationID:   connection.LocationID,
		LocationName: connection.LocationName,
	})
	return nil
}

// GetConnection returns the active connection projection for dashboards.
// When the stored location name is empty it is backfilled best-effort.
func (s *Service) GetConnection(ctx context.Context, providerID string, userID string) (view ConnectionView, found bool, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		fields["found"] = found
		s.observeOperation(ctx, startedAt, "get_connection", err, fields)
	}()

	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return ConnectionView{}, false, err
	}
	connection, found, err := s.connectionStore.GetActive(ctx, providerID, userID)
	if err != nil {
		err = s.mapError(err)
		return ConnectionView{}, false, err
	}
	if !found {
		return ConnectionView{}, false, nil
	}

	if connection.LocationName == "" && connection.LocationID != "" && s.locationResolver != nil {
		if cred, credErr := s.connectionCredential(ctx, connection); credErr == nil {
			connection = s.backfillLocationName(ctx, connection, cred)
		}
	}

	return connection.View(s.now()), true, nil
}

// GetConnectionWithExpiredCheck ignores status and reports clock expiry, so
// callers can distinguish "never connected" from "connected but stale".
func (s *Service) GetConnectionWithExpiredCheck(ctx context.Context, providerID string, userID string) (view ConnectionView, found bool, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		fields["found"] = found
		s.observeOperation(ctx, startedAt, "get_connection_with_expired_check", err, fields)
	}()

	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return ConnectionView{}, false, err
	}
	connection, found, err := s.connectionStore.Get(ctx, providerID, userID)
	if err != nil {
		err = s.mapError(err)
		return ConnectionView{}, false, err
	}
	if !found {
		return ConnectionView{}, false, nil
	}
	return connection.View(s.now()), true, nil
}

func (s *Service) backfillLocationName(ctx context.Context, connection Connection, cred ActiveCredential) Connection {
	if s == nil || s.locationResolver == nil {
		return connection
	}
	if connection.LocationName != "" || connection.LocationID == "" {
		return connection
	}
	name, err := s.locationResolver.ResolveLocationName(ctx, connection.ProviderID, cred, connection.LocationID)
	if err != nil {
		s.logWarn(ctx, "location name lookup failed", map[string]any{
			"provider_id": connection.ProviderID,
			"location_id": connection.LocationID,
			"error":       err.Error(),
		})
		return connection
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return connection
	}
	if s.connectionStore != nil {
		if updateErr := s.connectionStore.SetLocationName(ctx, connection.ID, name); updateErr != nil {
			s.logWarn(ctx, "location name persist failed", map[string]any{
				"connection_id": connection.ID,
				"error":         updateErr.Error(),
			})
			return connection
		}
	}
	connection.LocationName = name
	return connection
}

// expireConnection deactivates the connection, stamps expired_at, and emits
// the refresh_failed and expired events. Best effort on all writes.
func (s *Service) expireConnection(ctx context.Context, connection Connection, cause error) {
	if s == nil || s.connectionStore == nil {
		return
	}
	if !connection.Status.CanTransitionTo(ConnectionStatusExpired) && connection.Status != ConnectionStatusExpired {
		return
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	now := s.now()
	if err := s.connectionStore.MarkExpired(ctx, connection.ID, now, reason); err != nil {
		s.logWarn(ctx, "mark expired failed", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
		return
	}
	s.recordTelemetryEvent(ctx, TelemetryEvent{
		ProviderID: connection.ProviderID,
		UserID:     connection.UserID,
		EventType:  EventTypeRefreshFailed,
		LocationID: connection.LocationID,
		Error:      reason,
	})
	s.recordTelemetryEvent(ctx, TelemetryEvent{
		ProviderID: connection.ProviderID,
		UserID:     connection.UserID,
		EventType:  EventTypeExpired,
		LocationID: connection.LocationID,
		Error:      reason,
	})
}

func (s *Service) touchLastUsed(ctx context.Context, connection Connection) {
	if s == nil || s.connectionStore == nil || connection.ID == "" {
		return
	}
	if err := s.connectionStore.TouchLastUsed(ctx, connection.ID, s.now()); err != nil {
		s.logWarn(ctx, "touch last used failed", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
	}
}

// connectionCredential decrypts stored token material into provider form.
func (s *Service) connectionCredential(ctx context.Context, connection Connection) (ActiveCredential, error) {
	access, err := s.decryptToken(ctx, connection.AccessToken)
	if err != nil {
		return ActiveCredential{}, err
	}
	refresh, err := s.decryptToken(ctx, connection.RefreshToken)
	if err != nil {
		return ActiveCredential{}, err
	}
	return ActiveCredential{
		TokenType:      connection.TokenType,
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      cloneTime(connection.TokenExpiresAt),
		Refreshable:    strings.TrimSpace(refresh) != "",
		LocationID:     connection.LocationID,
		CompanyID:      connection.CompanyID,
		ExternalUserID: connection.ExternalUserID,
	}, nil
}

func (s *Service) encryptToken(ctx context.Context, value string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	if s.secretProvider == nil {
		return []byte(value), nil
	}
	return s.secretProvider.Encrypt(ctx, []byte(value))
}

func (s *Service) decryptToken(ctx context.Context, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	if s.secretProvider == nil {
		return string(payload), nil
	}
	plain, err := s.secretProvider.Decrypt(ctx, payload)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Service) recordTelemetryEvent(ctx context.Context, event TelemetryEvent) {
	if s == nil || s.telemetry == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if err := s.telemetry.RecordEvent(ctx, event); err != nil {
		s.logWarn(ctx, "telemetry event write failed", map[string]any{
			"event_type": event.EventType,
			"error":      err.Error(),
		})
	}
}

func (s *Service) recordIntegrationError(ctx context.Context, providerID string, userID string, errorType string, cause error, metadata map[string]any) {
	if s == nil || s.telemetry == nil || cause == nil {
		return
	}
	entry := IntegrationError{
		ProviderID: providerID,
		UserID:     userID,
		ErrorType:  errorType,
		Source:     providerID,
		Message:    cause.Error(),
		Metadata:   copyAnyMap(metadata),
		CreatedAt:  s.now(),
	}
	if err := s.telemetry.RecordError(ctx, entry); err != nil {
		s.logWarn(ctx, "integration error write failed", map[string]any{
			"error_type": errorType,
			"error":      err.Error(),
		})
	}
}

func (s *Service) noActiveConnectionError(providerID string, userID string) error {
	return s.mapError(
		s.errorFactory(
			fmt.Sprintf("core: no active connection for provider %q user %q", strings.TrimSpace(providerID), strings.TrimSpace(userID)),
			goerrors.CategoryNotFound,
		).WithTextCode(ConnectErrorNoActiveConnection),
	)
}

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	if s == nil || s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: registry unavailable"))
	}
	providerID = strings.TrimSpace(providerID)
	provider, ok := s.registry.Get(providerID)
	if ok {
		return provider, nil
	}
	return nil, s.mapError(fmt.Errorf("core: provider %q is not registered", providerID))
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Service) stateTTL() time.Duration {
	if s != nil && s.config.OAuth.StateTTL > 0 {
		return s.config.OAuth.StateTTL
	}
	return DefaultStateTTL
}

func (s *Service) expiringSoonWindow() time.Duration {
	if s != nil && s.config.OAuth.ExpiringSoonWindow > 0 {
		return s.config.OAuth.ExpiringSoonWindow
	}
	return DefaultExpiringSoonWindow
}

func (s *Service) refreshLeadWindow() time.Duration {
	if s != nil && s.config.OAuth.RefreshLeadWindow > 0 {
		return s.config.OAuth.RefreshLeadWindow
	}
	return DefaultRefreshLeadWindow
}

// isTokenEndpointRejection separates the authorization server saying "no"
// from transport problems that never reached it.
func isTokenEndpointRejection(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "token endpoint error") ||
		strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token")
}
