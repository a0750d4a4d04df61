// Package httpserver is the request adapter: it translates the REST
// surface into account-ledger and reporting operations and maps domain
// errors onto HTTP statuses. No business rules live here.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kandutap/fuelcard/pkg/ledger"
	"go.uber.org/zap"
)

const (
	timestampLayout     = "2006-01-02 15:04:05"
	contextKeyRequestID = "request_id"
	shutdownGracePeriod = 5 * time.Second

	messageInvalidCardID    = "Invalid card ID format. Card ID must be at least 4 digits."
	messageCardNotFound     = "Card not found. This card is not registered in our system."
	messageDuplicateCard    = "Card already exists"
	messageInvalidStatus    = `Status must be either "active" or "disabled"`
	messageInvalidAmount    = "Amount must be a finite number"
	messageCardIDRequired   = "Card ID is required"
	messageCreateCardFields = "Card ID and initial balance are required"
	messageTopUpFields      = "Card ID and amount are required"
	messagePumpFields       = "Card ID, liters, and cost are required"
	messageStatusFields     = "Card ID and status are required"
	messageBalanceFields    = "Card ID and balance are required"
)

// Server wires the gin router to the ledger and reporting services.
type Server struct {
	cfg           Config
	ledgerService *ledger.Service
	reporter      *ledger.Reporter
	logger        *zap.Logger
}

// New constructs a Server.
func New(cfg Config, ledgerService *ledger.Service, reporter *ledger.Reporter, logger *zap.Logger) *Server {
	return &Server{
		cfg:           cfg,
		ledgerService: ledgerService,
		reporter:      reporter,
		logger:        logger,
	}
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("fuelcard api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(server.requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins: server.cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/cards", server.handleGetCards)
	api.POST("/cards", server.handleCreateCard)
	api.PUT("/cards", server.handleUpdateCardBalance)
	api.GET("/topups", server.handleGetTopUps)
	api.POST("/topups", server.handleCreateTopUp)
	api.GET("/pump-history", server.handleGetPumpHistory)
	api.POST("/pump-history", server.handleCreatePumpRecord)
	api.GET("/admin/cards", server.handleAdminReport)
	api.PUT("/admin/cards/status", server.handleUpdateCardStatus)

	return router
}

func (server *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := uuid.NewString()
		ctx.Set(contextKeyRequestID, requestID)
		started := time.Now()
		ctx.Next()
		server.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

func (server *Server) handleGetCards(ctx *gin.Context) {
	rawCardID := ctx.Query("id")
	if rawCardID == "" {
		cards, err := server.ledgerService.Cards(ctx.Request.Context())
		if err != nil {
			server.respondError(ctx, err, "Failed to fetch cards")
			return
		}
		payloads := make([]cardPayload, 0, len(cards))
		for _, card := range cards {
			payloads = append(payloads, newCardPayload(card))
		}
		ctx.JSON(http.StatusOK, payloads)
		return
	}

	cardID, err := ledger.NewCardID(rawCardID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	card, err := server.ledgerService.Card(ctx.Request.Context(), cardID)
	if err != nil {
		server.respondError(ctx, err, "Failed to fetch card")
		return
	}
	ctx.JSON(http.StatusOK, newCardPayload(card))
}

func (server *Server) handleCreateCard(ctx *gin.Context) {
	var request createCardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageCreateCardFields))
		return
	}
	cardID, err := ledger.NewCardID(request.CardID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	initialBalance, err := ledger.NewAmount(*request.InitialBalance)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
		return
	}
	if err := server.ledgerService.ProvisionCard(ctx.Request.Context(), cardID, initialBalance); err != nil {
		server.respondError(ctx, err, "Failed to create card")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (server *Server) handleUpdateCardBalance(ctx *gin.Context) {
	var request updateCardBalanceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageBalanceFields))
		return
	}
	cardID, err := ledger.NewCardID(request.ID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	balance, err := ledger.NewAmount(*request.Balance)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
		return
	}
	if err := server.ledgerService.SetBalance(ctx.Request.Context(), cardID, balance); err != nil {
		server.respondError(ctx, err, "Failed to update card balance")
		return
	}
	// SetBalance maps zero affected rows to ErrCardNotFound, so reaching
	// this point means exactly one row changed.
	ctx.JSON(http.StatusOK, gin.H{"success": true, "changes": 1})
}

func (server *Server) handleGetTopUps(ctx *gin.Context) {
	rawCardID := ctx.Query("id")
	if rawCardID == "" {
		ctx.JSON(http.StatusBadRequest, errorBody(messageCardIDRequired))
		return
	}
	cardID, err := ledger.NewCardID(rawCardID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	card, topUps, err := server.ledgerService.TopUpHistory(ctx.Request.Context(), cardID)
	if err != nil {
		server.respondError(ctx, err, "Failed to fetch top-up history")
		return
	}
	payloads := make([]topUpPayload, 0, len(topUps))
	for _, topUp := range topUps {
		payloads = append(payloads, newTopUpPayload(topUp))
	}
	ctx.JSON(http.StatusOK, gin.H{"card": newCardPayload(card), "topUps": payloads})
}

func (server *Server) handleCreateTopUp(ctx *gin.Context) {
	var request createTopUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageTopUpFields))
		return
	}
	cardID, err := ledger.NewCardID(request.CardID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	amount, err := ledger.NewAmount(*request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
		return
	}
	if err := server.ledgerService.ApplyTopUp(ctx.Request.Context(), cardID, amount); err != nil {
		server.respondError(ctx, err, "Failed to process top-up")
		return
	}
	// The new balance is intentionally not disclosed here; clients
	// re-read the card.
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (server *Server) handleGetPumpHistory(ctx *gin.Context) {
	cardID := ctx.Query("id")
	if cardID == "" {
		ctx.JSON(http.StatusBadRequest, errorBody(messageCardIDRequired))
		return
	}
	limit := ledger.DefaultPumpHistoryLimit
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorBody("Limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	records, err := server.ledgerService.PumpHistory(ctx.Request.Context(), cardID, limit)
	if err != nil {
		server.respondError(ctx, err, "Failed to fetch pump history")
		return
	}
	payloads := make([]pumpRecordPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, newPumpRecordPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"history": payloads})
}

func (server *Server) handleCreatePumpRecord(ctx *gin.Context) {
	var request createPumpRecordRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messagePumpFields))
		return
	}
	liters, err := ledger.NewAmount(*request.Liters)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
		return
	}
	cost, err := ledger.NewAmount(*request.Cost)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
		return
	}
	if err := server.ledgerService.RecordPumpUsage(ctx.Request.Context(), request.CardID, liters, cost); err != nil {
		server.respondError(ctx, err, "Failed to save pump history")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (server *Server) handleAdminReport(ctx *gin.Context) {
	report, err := server.reporter.Report(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err, "Failed to fetch cards")
		return
	}
	ctx.JSON(http.StatusOK, newAdminReportPayload(report))
}

func (server *Server) handleUpdateCardStatus(ctx *gin.Context) {
	var request updateCardStatusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageStatusFields))
		return
	}
	status, err := ledger.ParseCardStatus(request.Status)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidStatus))
		return
	}
	cardID, err := ledger.NewCardID(request.CardID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
		return
	}
	if err := server.ledgerService.SetStatus(ctx.Request.Context(), cardID, status); err != nil {
		server.respondError(ctx, err, "Failed to update card status")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "cardId": cardID.String(), "status": status.String()})
}

func (server *Server) respondError(ctx *gin.Context, err error, fallbackMessage string) {
	switch {
	case errors.Is(err, ledger.ErrCardNotFound):
		ctx.JSON(http.StatusNotFound, errorBody(messageCardNotFound))
	case errors.Is(err, ledger.ErrDuplicateCard):
		ctx.JSON(http.StatusBadRequest, errorBody(messageDuplicateCard))
	case errors.Is(err, ledger.ErrInvalidCardID):
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidCardID))
	case errors.Is(err, ledger.ErrInvalidCardStatus):
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidStatus))
	case errors.Is(err, ledger.ErrInvalidAmount):
		ctx.JSON(http.StatusBadRequest, errorBody(messageInvalidAmount))
	default:
		server.logger.Error("request failed",
			zap.String("path", ctx.Request.URL.Path),
			zap.Error(err),
		)
		ctx.JSON(http.StatusInternalServerError, errorBody(fallbackMessage))
	}
}

func errorBody(message string) gin.H {
	return gin.H{"error": message}
}

type createCardRequest struct {
	CardID         string   `json:"cardId" binding:"required"`
	InitialBalance *float64 `json:"initialBalance" binding:"required"`
}

type updateCardBalanceRequest struct {
	ID      string   `json:"id" binding:"required"`
	Balance *float64 `json:"balance" binding:"required"`
}

type createTopUpRequest struct {
	CardID string   `json:"cardId" binding:"required"`
	Amount *float64 `json:"amount" binding:"required"`
}

type createPumpRecordRequest struct {
	CardID string   `json:"cardId" binding:"required"`
	Liters *float64 `json:"liters" binding:"required"`
	Cost   *float64 `json:"cost" binding:"required"`
}

type updateCardStatusRequest struct {
	CardID string `json:"cardId" binding:"required"`
	Status string `json:"status" binding:"required"`
}

type cardPayload struct {
	ID        string  `json:"id"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type topUpPayload struct {
	ID        int64   `json:"id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at"`
}

type pumpRecordPayload struct {
	ID        int64   `json:"id"`
	Liters    float64 `json:"liters"`
	Cost      float64 `json:"cost"`
	CreatedAt string  `json:"created_at"`
}

type totalsPayload struct {
	TotalRevenue float64 `json:"totalRevenue"`
	TotalLiters  float64 `json:"totalLiters"`
	TotalPumps   int64   `json:"totalPumps"`
}

type dailyStatPayload struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Liters  float64 `json:"liters"`
	Pumps   int64   `json:"pumps"`
}

type cardUsagePayload struct {
	CardID      string  `json:"card_id"`
	TotalLiters float64 `json:"totalLiters"`
	TotalSpent  float64 `json:"totalSpent"`
	TotalPumps  int64   `json:"totalPumps"`
}

type hourlyCountPayload struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

type cardActivityPayload struct {
	ID         string  `json:"id"`
	Balance    float64 `json:"balance"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	TopUpCount int64   `json:"top_up_count"`
	PumpCount  int64   `json:"pump_count"`
}

type adminReportPayload struct {
	Totals             totalsPayload         `json:"totals"`
	DailyStats         []dailyStatPayload    `json:"dailyStats"`
	TopCards           []cardUsagePayload    `json:"topCards"`
	HourlyDistribution []hourlyCountPayload  `json:"hourlyDistribution"`
	Cards              []cardActivityPayload `json:"cards"`
}

func newCardPayload(card ledger.Card) cardPayload {
	return cardPayload{
		ID:        card.ID.String(),
		Balance:   card.Balance.InexactFloat64(),
		Status:    card.Status.String(),
		CreatedAt: card.CreatedAt.Format(timestampLayout),
		UpdatedAt: card.UpdatedAt.Format(timestampLayout),
	}
}

func newTopUpPayload(topUp ledger.TopUp) topUpPayload {
	return topUpPayload{
		ID:        topUp.ID,
		Amount:    topUp.Amount.InexactFloat64(),
		CreatedAt: topUp.CreatedAt.Format(timestampLayout),
	}
}

func newPumpRecordPayload(record ledger.PumpRecord) pumpRecordPayload {
	return pumpRecordPayload{
		ID:        record.ID,
		Liters:    record.Liters.InexactFloat64(),
		Cost:      record.Cost.InexactFloat64(),
		CreatedAt: record.CreatedAt.Format(timestampLayout),
	}
}

func newAdminReportPayload(report ledger.AdminReport) adminReportPayload {
	dailyStats := make([]dailyStatPayload, 0, len(report.DailyStats))
	for _, stat := range report.DailyStats {
		dailyStats = append(dailyStats, dailyStatPayload{
			Date:    stat.Date,
			Revenue: stat.Revenue.InexactFloat64(),
			Liters:  stat.Liters.InexactFloat64(),
			Pumps:   stat.Pumps,
		})
	}
	topCards := make([]cardUsagePayload, 0, len(report.TopCards))
	for _, usage := range report.TopCards {
		topCards = append(topCards, cardUsagePayload{
			CardID:      usage.CardID,
			TotalLiters: usage.TotalLiters.InexactFloat64(),
			TotalSpent:  usage.TotalSpent.InexactFloat64(),
			TotalPumps:  usage.TotalPumps,
		})
	}
	hourlyDistribution := make([]hourlyCountPayload, 0, len(report.HourlyDistribution))
	for _, count := range report.HourlyDistribution {
		hourlyDistribution = append(hourlyDistribution, hourlyCountPayload{
			Hour:  count.Hour,
			Count: count.Count,
		})
	}
	cards := make([]cardActivityPayload, 0, len(report.Cards))
	for _, activity := range report.Cards {
		cards = append(cards, cardActivityPayload{
			ID:         activity.Card.ID.String(),
			Balance:    activity.Card.Balance.InexactFloat64(),
			Status:     activity.Card.Status.String(),
			CreatedAt:  activity.Card.CreatedAt.Format(timestampLayout),
			UpdatedAt:  activity.Card.UpdatedAt.Format(timestampLayout),
			TopUpCount: activity.TopUpCount,
			PumpCount:  activity.PumpCount,
		})
	}
	return adminReportPayload{
		Totals: totalsPayload{
			TotalRevenue: report.Totals.TotalRevenue.InexactFloat64(),
			TotalLiters:  report.Totals.TotalLiters.InexactFloat64(),
			TotalPumps:   report.Totals.TotalPumps,
		},
		DailyStats:         dailyStats,
		TopCards:           topCards,
		HourlyDistribution: hourlyDistribution,
		Cards:              cards,
	}
}
