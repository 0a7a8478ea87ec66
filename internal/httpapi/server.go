// Package httpapi exposes the economy service over a cookie-authenticated
// JSON API for the chat app frontend.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumichat/economy/pkg/economy"
)

// Run boots the HTTP API and blocks until ctx is canceled or the listener
// fails.
func Run(ctx context.Context, cfg Config, service *economy.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("httpapi config: %w", err)
	}
	validator, err := NewSessionValidator([]byte(cfg.SessionSigningKey), cfg.SessionIssuer, cfg.SessionCookieName)
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router := setupRouter(cfg, handler, validator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("economy api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *SessionValidator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware())

	api.POST("/bootstrap", handler.handleBootstrap)
	api.GET("/wallet", handler.handleWallet)
	api.POST("/coins/purchase", handler.handlePurchaseCoins)
	api.POST("/gifts", handler.handleSendGift)
	api.GET("/membership", handler.handleMembership)
	api.POST("/membership/upgrade", handler.handleUpgradeMembership)
	api.POST("/quota/consume", handler.handleConsumeQuota)
	api.POST("/effects", handler.handleGrantEffect)
	api.GET("/effects/:effect_type", handler.handleEffectStatus)
	api.POST("/unlocks", handler.handleUnlockContent)
	api.GET("/unlocks/:content_id", handler.handleEntitlementStatus)
	api.POST("/ads/claims", handler.handleAdClaim)
	api.POST("/refunds", handler.handleRefund)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *economy.Service
	cfg     Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// handleBootstrap grants the one-time welcome credit. The derived idempotency
// key makes repeat calls replay the original grant instead of crediting again.
func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	amount, err := economy.NewCoinAmount(handler.cfg.BootstrapCoins)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, err := economy.NewIdempotencyKey(fmt.Sprintf("bootstrap:%s", userID.String()))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	metadata, _ := economy.NewMetadataJSON(marshalMetadata(map[string]string{"action": "bootstrap"}))

	if _, err := handler.service.ApplyTransaction(requestCtx, userID, amount, economy.TransactionCredit, "bootstrap", key, metadata); err != nil {
		handler.logger.Error("bootstrap grant failed", zap.Error(err))
		respondDomainError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) handlePurchaseCoins(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request purchaseCoinsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.PurchaseCoins(requestCtx, userID, request.PackageID, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleSendGift(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request giftRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	toUserID, err := economy.NewUserID(request.ToUserID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	amount, err := economy.NewCoinAmount(request.AmountCoins)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.SendGift(requestCtx, userID, toUserID, amount, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleMembership(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	state, err := handler.service.Membership(requestCtx, userID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, state)
}

func (handler *httpHandler) handleUpgradeMembership(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request upgradeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tier, err := economy.ParseTier(request.Tier)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.UpgradeMembership(requestCtx, userID, tier, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleConsumeQuota(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request quotaRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	usage, err := handler.service.ConsumeQuota(requestCtx, userID, economy.QuotaType(request.QuotaType))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, usage)
}

func (handler *httpHandler) handleGrantEffect(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request effectRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.GrantEffect(requestCtx, userID, economy.EffectType(request.EffectType), key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleEffectStatus(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	active, err := handler.service.IsEffectActive(requestCtx, userID, economy.EffectType(ctx.Param("effect_type")))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"active": active})
}

func (handler *httpHandler) handleUnlockContent(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request unlockRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	contentID, err := economy.NewContentID(request.ContentID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.UnlockContent(requestCtx, userID, contentID, request.ProductID, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleEntitlementStatus(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	contentID, err := economy.NewContentID(ctx.Param("content_id"))
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	unlocked, err := handler.service.HasEntitlement(requestCtx, userID, contentID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

func (handler *httpHandler) handleAdClaim(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request adClaimRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	claimToken, err := economy.NewClaimToken(request.ClaimToken)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.VerifyAdClaim(requestCtx, userID, claimToken, request.Source, request.ClientUnixUTC, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	userID, ok := authenticatedUserID(ctx)
	if !ok {
		return
	}
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	transactionID, err := economy.NewTransactionID(request.TransactionID)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	key, metadata, err := parseKeyAndMetadata(request.IdempotencyKey, request.Metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.Refund(requestCtx, userID, transactionID, request.Reason, key, metadata)
	if err != nil {
		respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, userID economy.UserID) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance fetch failed", zap.Error(err))
		respondDomainError(ctx, err)
		return
	}
	transactions, err := handler.service.ListTransactions(requestCtx, userID, time.Now().UTC().Add(time.Second).Unix(), handler.cfg.HistoryLimit)
	if err != nil {
		handler.logger.Error("transaction list failed", zap.Error(err))
		respondDomainError(ctx, err)
		return
	}

	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayload{
			TransactionID:  transaction.TransactionID,
			Kind:           transaction.Kind.String(),
			AmountCoins:    transaction.AmountCoins,
			RelatedEntity:  transaction.RelatedEntity,
			RefundsID:      transaction.RefundsID,
			Status:         transaction.Status,
			Metadata:       json.RawMessage(transaction.MetadataJSON),
			CreatedUnixUTC: transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletResponse{
		Balance:      balance.BalanceCoins,
		Transactions: payloads,
	}})
}

func authenticatedUserID(ctx *gin.Context) (economy.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return economy.UserID{}, false
	}
	userID, err := economy.NewUserID(claims.UserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid subject"))
		return economy.UserID{}, false
	}
	return userID, true
}

func parseKeyAndMetadata(rawKey string, rawMetadata map[string]any) (economy.IdempotencyKey, economy.MetadataJSON, error) {
	key, err := economy.NewIdempotencyKey(rawKey)
	if err != nil {
		return economy.IdempotencyKey{}, economy.MetadataJSON{}, err
	}
	encoded := "{}"
	if rawMetadata != nil {
		encoded = marshalMetadata(rawMetadata)
	}
	metadata, err := economy.NewMetadataJSON(encoded)
	if err != nil {
		return economy.IdempotencyKey{}, economy.MetadataJSON{}, err
	}
	return key, metadata, nil
}

func marshalMetadata(metadata any) string {
	if metadata == nil {
		return "{}"
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
