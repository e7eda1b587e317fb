package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/claim"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/qrpayload"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:claims")
	}

	accounts := auth.NewAccountRepository(db.Client)
	registry := session.NewRegistry(session.NewRepository(db.Client))
	rosterRepo := roster.NewRepository(db.Client)
	validator := claim.NewValidator(registry, rosterRepo, claim.NewRepository(db.Client), cfg.IdentityCheckStrict)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured; QR posters served inline only")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, "/healthz", "/metrics").GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := accounts.GetByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		if account == nil || !auth.CheckPassword(account.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, exp, err := auth.Issue(account.ID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"expires_at":   exp.Unix(),
			"teacher_name": account.Name,
		})
	})

	teacher := r.Group("/v1/teacher", auth.TeacherAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	teacher.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Subject         string `json:"subject" binding:"required"`
			ClassName       string `json:"class_name" binding:"required"`
			Section         string `json:"section"`
			DurationMinutes int    `json:"duration_minutes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ttl := cfg.SessionTTL
		if req.DurationMinutes > 0 {
			ttl = time.Duration(req.DurationMinutes) * time.Minute
		}

		sess, err := registry.Create(c.Request.Context(), teacherID(c), req.Subject, req.ClassName, req.Section, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session create failed"})
			return
		}
		metrics.SessionsCreated.Inc()

		payload := qrpayload.Payload{
			SessionToken: sess.Token,
			Subject:      sess.Subject,
			ClassName:    sess.ClassName,
			Section:      sess.Section,
			ExpiresAt:    sess.ExpiresAt,
			GeneratedAt:  sess.CreatedAt,
		}
		png, err := qrpayload.PNG(payload, cfg.QRSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}

		resp := gin.H{
			"session_id":    sess.ID,
			"session_token": sess.Token,
			"session_info":  payload,
			"expires_at":    sess.ExpiresAt,
			"qr_code":       base64.StdEncoding.EncodeToString(png),
		}
		if cdnClient != nil {
			if up, err := cdnClient.UploadBytes(png, sess.ID+".png"); err != nil {
				log.Printf("qr poster upload failed: %v", err)
			} else {
				resp["poster_url"] = up.SecureURL
			}
		}
		c.JSON(http.StatusCreated, resp)
	})

	teacher.GET("/sessions", func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		sessions, err := registry.ListByTeacher(c.Request.Context(), teacherID(c), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, gin.H{
				"session_id":       s.ID,
				"session_token":    s.Token,
				"subject":          s.Subject,
				"class_name":       s.ClassName,
				"section":          s.Section,
				"created_at":       s.CreatedAt,
				"expires_at":       s.ExpiresAt,
				"active":           s.Active,
				"attendance_count": s.ClaimCount,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	teacher.GET("/sessions/:id/qr", func(c *gin.Context) {
		sess, ok := ownedSession(c, registry)
		if !ok {
			return
		}
		png, err := qrpayload.PNG(qrpayload.Payload{
			SessionToken: sess.Token,
			Subject:      sess.Subject,
			ClassName:    sess.ClassName,
			Section:      sess.Section,
			ExpiresAt:    sess.ExpiresAt,
			GeneratedAt:  sess.CreatedAt,
		}, cfg.QRSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	teacher.POST("/sessions/:id/deactivate", func(c *gin.Context) {
		sess, ok := ownedSession(c, registry)
		if !ok {
			return
		}
		if err := registry.Deactivate(c.Request.Context(), sess.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivate failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "active": false})
	})

	teacher.GET("/sessions/:id/claims", func(c *gin.Context) {
		sess, ok := ownedSession(c, registry)
		if !ok {
			return
		}
		records, err := validator.ClaimsForSession(c.Request.Context(), sess.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(records))
		for _, rec := range records {
			out = append(out, gin.H{
				"student_name": rec.StudentName,
				"roll_no":      rec.RollNo,
				"marked_at":    rec.MarkedAt,
				"ip_address":   rec.IPAddress,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.ID,
			"subject":    sess.Subject,
			"class_name": sess.ClassName,
			"claims":     out,
			"count":      len(out),
		})
	})

	r.POST("/v1/student/validate-qr", func(c *gin.Context) {
		var req struct {
			QRData string `json:"qr_data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		payload, err := qrpayload.Decode([]byte(req.QRData))
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"valid": false, "error": "invalid QR code"})
			return
		}
		// Advisory only; Submit re-checks against the registry.
		if payload.Expired(time.Now().UTC()) {
			c.JSON(http.StatusOK, gin.H{"valid": false, "error": "QR code has expired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "session_info": payload})
	})

	r.POST("/v1/student/claims", func(c *gin.Context) {
		var req struct {
			SessionToken  string `json:"session_token" binding:"required"`
			StudentRollNo string `json:"student_roll_no" binding:"required"`
			StudentName   string `json:"student_name"`
			FatherName    string `json:"father_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		receipt, err := validator.Submit(c.Request.Context(), claim.SubmitRequest{
			Token:       req.SessionToken,
			RollNo:      req.StudentRollNo,
			StudentName: req.StudentName,
			FatherName:  req.FatherName,
			IPAddress:   c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
		})
		if err != nil {
			var rej *claim.RejectionError
			if errors.As(err, &rej) {
				metrics.Claims.WithLabelValues(string(rej.Code)).Inc()
				c.JSON(http.StatusOK, gin.H{"accepted": false, "code": rej.Code, "error": rej.Message})
				return
			}
			metrics.Claims.WithLabelValues("internal_error").Inc()
			log.Printf("submit failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance could not be recorded"})
			return
		}

		metrics.Claims.WithLabelValues("accepted").Inc()
		if err := q.Publish(c.Request.Context(), queue.Event{
			SessionID: receipt.SessionID,
			RollNo:    req.StudentRollNo,
			MarkedAt:  receipt.MarkedAt,
		}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"accepted":     true,
			"message":      "Attendance marked successfully",
			"student_name": receipt.StudentName,
			"marked_at":    receipt.MarkedAt,
		})
	})

	r.GET("/v1/student/claims", func(c *gin.Context) {
		rollNo := c.Query("roll_no")
		if rollNo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roll_no required"})
			return
		}
		limit := 50
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}

		records, err := validator.ClaimsForStudent(c.Request.Context(), rollNo, limit)
		if err != nil {
			var rej *claim.RejectionError
			if errors.As(err, &rej) && rej.Code == claim.CodeStudentNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": rej.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(records))
		for _, rec := range records {
			out = append(out, gin.H{
				"session_id": rec.SessionID,
				"subject":    rec.Subject,
				"class_name": rec.ClassName,
				"marked_at":  rec.MarkedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"roll_no": rollNo, "claims": out})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// teacherID extracts the authenticated teacher from the context set by
// the auth middleware.
func teacherID(c *gin.Context) string {
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	return claims.Subject
}

// ownedSession loads the :id session and enforces that the caller owns
// it. Writes the error response itself when the check fails.
func ownedSession(c *gin.Context, registry *session.Registry) (session.Session, bool) {
	sess, err := registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session load failed"})
		}
		return session.Session{}, false
	}
	if sess.TeacherID != teacherID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return session.Session{}, false
	}
	return sess, true
}

// securityHeaders applied on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
