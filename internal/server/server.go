package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"gitpress/internal/audit"
	"gitpress/internal/auth"
	"gitpress/internal/config"
	"gitpress/internal/constants"
	"gitpress/internal/githost"
	"gitpress/internal/publish"
	"gitpress/internal/security"
	"gitpress/internal/throttle"
)

type Server struct {
	Cfg     *config.Config
	Gateway *auth.Gateway
	Client  *githost.Client
	Builder *publish.Builder
	Limiter throttle.Limiter
	Audit   *audit.Logger
}

func NewServer(cfg *config.Config) (*Server, error) {
	auditLogger, err := audit.GetLogger()
	if err != nil {
		log.Printf("Warning: Failed to initialize audit logger: %v", err)
	}

	limiter := throttle.NewLimiter()
	codec := auth.NewTokenCodec(cfg.JWTSecret, cfg.JWTTTL, cfg.Production)
	gateway := auth.NewGateway(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.AdminTOTPSecret, codec, limiter)

	client, err := githost.NewClient(cfg)
	if err != nil {
		limiter.Close()
		return nil, err
	}

	return &Server{
		Cfg:     cfg,
		Gateway: gateway,
		Client:  client,
		Builder: publish.NewBuilder(client, cfg.RemoteBranch, auditLogger),
		Limiter: limiter,
		Audit:   auditLogger,
	}, nil
}

func (s *Server) Run() {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointLogin, s.HandleLogin)
	mux.HandleFunc(constants.EndpointLogout, s.HandleLogout)
	mux.HandleFunc(constants.EndpointSession, s.HandleSession)
	mux.HandleFunc(constants.EndpointRemoteOp, s.HandleRemoteOp)
	mux.HandleFunc(constants.EndpointPublish, s.HandlePublishPost)
	mux.HandleFunc(constants.EndpointDelete, s.HandleDeletePost)
	mux.HandleFunc(constants.EndpointEdits, s.HandleSaveEdits)
	mux.HandleFunc(constants.EndpointListing, s.HandlePushListing)
	mux.HandleFunc(constants.EndpointSetup2FA, s.HandleSetup2FA)

	var handler http.Handler = mux
	handler = RecoveryMiddleware(handler)
	handler = CorsMiddleware(handler)
	handler = security.SecurityHeaders(handler)

	server := &http.Server{
		Addr:              ":" + s.Cfg.Port,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("gitpress server starting on :%s (branch %s of %s/%s)",
		s.Cfg.Port, s.Cfg.RemoteBranch, s.Cfg.RemoteOwner, s.Cfg.RemoteRepo)

	<-sigChan
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	s.Cleanup()
	log.Println("Server stopped")
}

func (s *Server) Cleanup() {
	s.Limiter.Close()
	s.Audit.Close()
}
