// Package publisher streams live estimates to gRPC clients and reports
// estimator liveness through the standard gRPC health service.
//
// The Watch stream carries google.protobuf.Struct messages so clients need
// no generated code: any gRPC client that can speak the well-known types
// can decode an estimate.
package publisher

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/timeutil"
)

// ServiceName is the gRPC service carrying the estimate stream. Health is
// reported both for it and for the server as a whole ("").
const ServiceName = "egomotion.v1.EgoMotion"

const watchMethod = "/" + ServiceName + "/Watch"

// Config holds configuration for the gRPC publisher.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// StaleAfter is how long after the last estimate health flips to
	// NOT_SERVING.
	StaleAfter time.Duration

	// MaxClients is the maximum number of concurrent Watch streams.
	MaxClients int

	// ClientBuffer is the per-client estimate queue depth.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		StaleAfter:   time.Second,
		MaxClients:   8,
		ClientBuffer: 64,
	}
}

// EgoMotionServer is the server side of the Watch stream.
type EgoMotionServer interface {
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EgoMotionServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "egomotion/v1/egomotion.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EgoMotionServer).Watch(in, stream)
}

// Publisher is a pipeline.Sink that fans estimates out to Watch clients.
type Publisher struct {
	config Config
	clock  timeutil.Clock

	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	streams  *pipeline.Broadcaster

	mu       sync.Mutex
	lastSeen time.Time
	serving  bool

	published atomic.Uint64
	clients   atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher. A nil clock uses the real clock.
func NewPublisher(cfg Config, clock timeutil.Clock) *Publisher {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &Publisher{
		config:  cfg,
		clock:   clock,
		health:  health.NewServer(),
		streams: pipeline.NewBroadcaster(cfg.ClientBuffer),
		stopCh:  make(chan struct{}),
	}
	p.setHealth(false)
	p.server = grpc.NewServer()
	healthpb.RegisterHealthServer(p.server, p.health)
	p.server.RegisterService(&serviceDesc, p)
	return p
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background until Stop.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis

	p.wg.Add(2)
	go p.watchdog()
	go func() {
		defer p.wg.Done()
		log.Printf("[publisher] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[publisher] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every Watch stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.health.Shutdown()
	p.streams.Close()
	p.server.GracefulStop()
	p.wg.Wait()
	log.Printf("[publisher] gRPC server stopped after %d estimates", p.published.Load())
}

// Publish implements pipeline.Sink.
func (p *Publisher) Publish(e pipeline.Estimate) {
	p.mu.Lock()
	p.lastSeen = p.clock.Now()
	p.mu.Unlock()
	p.setServing(true)
	p.published.Add(1)
	p.streams.Publish(e)
}

// Clients returns the number of connected Watch streams.
func (p *Publisher) Clients() int { return int(p.clients.Load()) }

func (p *Publisher) setServing(serving bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if serving == p.serving {
		return
	}
	p.serving = serving
	p.setHealth(serving)
}

func (p *Publisher) setHealth(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	p.health.SetServingStatus("", st)
	p.health.SetServingStatus(ServiceName, st)
}

// watchdog marks the service NOT_SERVING once estimates stop arriving.
func (p *Publisher) watchdog() {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.config.StaleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C():
			p.mu.Lock()
			stale := p.serving && now.Sub(p.lastSeen) > p.config.StaleAfter
			p.mu.Unlock()
			if stale {
				log.Printf("[publisher] no estimate for %v, reporting NOT_SERVING", p.config.StaleAfter)
				p.setServing(false)
			}
		}
	}
}

// Watch streams estimates to one client until it disconnects or the
// publisher stops. Slow clients miss estimates.
func (p *Publisher) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if n := p.clients.Add(1); int(n) > p.config.MaxClients {
		p.clients.Add(-1)
		return status.Errorf(codes.ResourceExhausted, "at most %d watch clients", p.config.MaxClients)
	}
	defer p.clients.Add(-1)

	id, estimates := p.streams.Subscribe()
	defer p.streams.Unsubscribe(id)
	log.Printf("[publisher] watch client %s connected", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[publisher] watch client %s disconnected (dropped %d)", id, p.streams.Dropped(id))
			return nil
		case e, ok := <-estimates:
			if !ok {
				return status.Error(codes.Unavailable, "publisher stopped")
			}
			msg, err := EstimateToStruct(e)
			if err != nil {
				return status.Errorf(codes.Internal, "failed to encode estimate: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
