package main

import (
	"context"
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
	"github.com/takoyadon/loyalty-ledger/internal/config"
)

// SendEmailRequest mirrors the Resend send endpoint.
type SendEmailRequest struct {
	From    string   `json:"from" binding:"required"`
	To      []string `json:"to" binding:"required,min=1"`
	Subject string   `json:"subject" binding:"required"`
	Text    string   `json:"text"`
}

type SendEmailResponse struct {
	ID string `json:"id"`
}

type StoredEmail struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MockMailer accepts emails and keeps them in memory.
type MockMailer struct {
	apiKey      string
	delay       time.Duration
	failureRate float64

	mu     sync.Mutex
	rng    *rand.Rand
	emails map[string]*StoredEmail
	// idempotency key -> email id
	keys map[string]string
}

func NewMockMailer(apiKey string, delay time.Duration, failureRate float64) *MockMailer {
	return &MockMailer{
		apiKey:      apiKey,
		delay:       delay,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		emails:      make(map[string]*StoredEmail),
		keys:        make(map[string]string),
	}
}

func (m *MockMailer) shouldFail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.failureRate
}

// store returns the saved email and whether it was already known under key.
func (m *MockMailer) store(key string, req *SendEmailRequest) (*StoredEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key != "" {
		if id, ok := m.keys[key]; ok {
			return m.emails[id], true
		}
	}
	e := &StoredEmail{
		ID:        uuid.NewString(),
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	m.emails[e.ID] = e
	if key != "" {
		m.keys[key] = e.ID
	}
	return e, false
}

func (m *MockMailer) get(id string) (*StoredEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	return e, ok
}

type Handler struct {
	mailer *MockMailer
}

func NewHandler(mailer *MockMailer) *Handler {
	return &Handler{mailer: mailer}
}

func (h *Handler) authorize(c *gin.Context) {
	if h.mailer.apiKey == "" {
		c.Next()
		return
	}
	if strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") != h.mailer.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

func (h *Handler) SendEmail(c *gin.Context) {
	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	time.Sleep(h.mailer.delay)

	if h.mailer.shouldFail() {
		log.Warn().Strs("to", req.To).Msg("Simulated provider failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}

	key := c.GetHeader("Idempotency-Key")
	email, replayed := h.mailer.store(key, &req)

	log.Info().
		Str("id", email.ID).
		Strs("to", req.To).
		Str("subject", req.Subject).
		Str("idempotency_key", key).
		Bool("replayed", replayed).
		Msg("Email accepted")

	c.JSON(http.StatusOK, SendEmailResponse{ID: email.ID})
}

func (h *Handler) GetEmail(c *gin.Context) {
	email, ok := h.mailer.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	c.JSON(http.StatusOK, email)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	emails := router.Group("/emails", handler.authorize)
	{
		emails.POST("", handler.SendEmail)
		emails.GET("/:id", handler.GetEmail)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := config.Load(argContainsEnvPath()); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := config.Get()

	log.Info().
		Str("addr", cfg.MailMockAddr).
		Dur("delay", cfg.MailMockDelay).
		Float64("failure_rate", cfg.MailMockFailureRate).
		Msg("Starting mock mail provider")

	handler := NewHandler(NewMockMailer(cfg.MailApiKey, cfg.MailMockDelay, cfg.MailMockFailureRate))

	srv := &http.Server{
		Addr:         cfg.MailMockAddr,
		Handler:      SetupRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			return strings.TrimPrefix(v, "--env=")
		}
	}
	return ""
}
