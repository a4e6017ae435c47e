package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sandbox mimics the PayPal orders API and the MTN MoMo collection API
// closely enough for local runs of the api and processor binaries.

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent" binding:"required"`
	PurchaseUnits []purchaseUnit `json:"purchase_units" binding:"required,min=1"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type orderUnit struct {
	ReferenceID string `json:"reference_id"`
	Amount      amount `json:"amount"`
	Payments    struct {
		Captures []capture `json:"captures"`
	} `json:"payments"`
}

type order struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Links         []link      `json:"links"`
	PurchaseUnits []orderUnit `json:"purchase_units,omitempty"`
}

type party struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId" binding:"required"`
}

type requestToPay struct {
	Amount     string `json:"amount" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
	ExternalID string `json:"externalId"`
	Payer      party  `json:"payer"`
}

type transfer struct {
	requestToPay
	settleAt time.Time
	status   string
	txID     string
}

// Sandbox keeps every order and transfer in memory.
type Sandbox struct {
	successRate float64
	settleDelay time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	orders    map[string]*order
	transfers map[string]*transfer
	requests  map[string]string
}

func NewSandbox(successRate float64, settleDelay time.Duration) *Sandbox {
	return &Sandbox{
		successRate: successRate,
		settleDelay: settleDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		orders:      make(map[string]*order),
		transfers:   make(map[string]*transfer),
		requests:    make(map[string]string),
	}
}

func (s *Sandbox) succeeds() bool {
	return s.rng.Float64() < s.successRate
}

func (s *Sandbox) Token(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Basic ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": "sandbox-" + uuid.NewString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func bearer(c *gin.Context) bool {
	if strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		return true
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
	return false
}

func (s *Sandbox) CreateOrder(c *gin.Context) {
	if !bearer(c) {
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"name": "INVALID_REQUEST", "details": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// PayPal-Request-Id makes a retried create return the same order
	requestID := c.GetHeader("PayPal-Request-Id")
	if id, ok := s.requests[requestID]; ok && requestID != "" {
		c.JSON(http.StatusOK, s.orders[id])
		return
	}

	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
	o := &order{
		ID:     id,
		Status: "CREATED",
		Links: []link{
			{Href: "/v2/checkout/orders/" + id, Rel: "self", Method: "GET"},
			{Href: "https://sandbox.local/checkoutnow?token=" + id, Rel: "approve", Method: "GET"},
			{Href: "/v2/checkout/orders/" + id + "/capture", Rel: "capture", Method: "POST"},
		},
	}
	for _, pu := range req.PurchaseUnits {
		o.PurchaseUnits = append(o.PurchaseUnits, orderUnit{ReferenceID: pu.ReferenceID, Amount: pu.Amount})
	}
	s.orders[id] = o
	if requestID != "" {
		s.requests[requestID] = id
	}

	log.Info().Str("order_id", id).Str("intent", req.Intent).Msg("order created")
	c.JSON(http.StatusCreated, o)
}

func (s *Sandbox) CaptureOrder(c *gin.Context) {
	if !bearer(c) {
		return
	}
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"name": "RESOURCE_NOT_FOUND", "message": "order " + id + " not found"})
		return
	}
	if o.Status == "COMPLETED" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"name": "UNPROCESSABLE_ENTITY", "details": []gin.H{{"issue": "ORDER_ALREADY_CAPTURED"}}})
		return
	}

	status := "COMPLETED"
	if !s.succeeds() {
		status = "DECLINED"
	}
	for i := range o.PurchaseUnits {
		o.PurchaseUnits[i].Payments.Captures = []capture{{ID: uuid.NewString(), Status: status}}
	}
	o.Status = "COMPLETED"

	log.Info().Str("order_id", id).Str("capture_status", status).Msg("order captured")
	c.JSON(http.StatusCreated, o)
}

func (s *Sandbox) RequestToPay(c *gin.Context) {
	if !bearer(c) {
		return
	}
	ref := c.GetHeader("X-Reference-Id")
	if _, err := uuid.Parse(ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REFERENCE_ID", "message": "X-Reference-Id must be a uuid"})
		return
	}
	var req requestToPay
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[ref]; ok {
		c.JSON(http.StatusConflict, gin.H{"code": "RESOURCE_ALREADY_EXIST", "message": "duplicated reference id"})
		return
	}
	t := &transfer{requestToPay: req, settleAt: time.Now().Add(s.settleDelay), status: "PENDING"}
	s.transfers[ref] = t

	log.Info().Str("reference_id", ref).Str("payer", req.Payer.PartyID).Str("amount", req.Amount).Msg("request to pay accepted")
	c.Status(http.StatusAccepted)
}

func (s *Sandbox) TransferStatus(c *gin.Context) {
	if !bearer(c) {
		return
	}
	ref := c.Param("ref")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[ref]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "RESOURCE_NOT_FOUND", "message": "requested resource was not found"})
		return
	}
	if t.status == "PENDING" && time.Now().After(t.settleAt) {
		if s.succeeds() {
			t.status = "SUCCESSFUL"
			t.txID = fmt.Sprintf("%d", s.rng.Int63n(1e10))
		} else {
			t.status = "FAILED"
		}
	}

	resp := gin.H{
		"amount":                 t.Amount,
		"currency":               t.Currency,
		"externalId":             t.ExternalID,
		"payer":                  t.Payer,
		"status":                 t.status,
		"financialTransactionId": t.txID,
	}
	if t.status == "FAILED" {
		resp["reason"] = gin.H{"code": "APPROVAL_REJECTED", "message": "payer rejected the request"}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Sandbox) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func SetupRouter(s *Sandbox) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})

	router.GET("/health", s.Health)

	router.POST("/v1/oauth2/token", s.Token)
	router.POST("/v2/checkout/orders", s.CreateOrder)
	router.POST("/v2/checkout/orders/:id/capture", s.CaptureOrder)

	momo := router.Group("/collection")
	{
		momo.POST("/token/", s.Token)
		momo.POST("/v1_0/requesttopay", s.RequestToPay)
		momo.GET("/v1_0/requesttopay/:ref", s.TransferStatus)
	}

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8090")
	successRate := getEnvFloat("SUCCESS_RATE", 0.9)
	settleDelay := getEnvDuration("SETTLE_DELAY", 30*time.Second)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewSandbox(successRate, settleDelay)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Float64("success_rate", successRate).Dur("settle_delay", settleDelay).Msg("payment sandbox started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("sandbox failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("sandbox stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(os.Getenv(key), "%f", &f); err == nil {
		return f
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
