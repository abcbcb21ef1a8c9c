// ABOUTME: Entry point for the Converse terminal client
// ABOUTME: Parses CLI flags, finds a server and runs the conversation loop
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Converse-Protocol/converse-go/internal/ui"
	"github.com/Converse-Protocol/converse-go/internal/version"
	"github.com/Converse-Protocol/converse-go/pkg/converse"
	"github.com/Converse-Protocol/converse-go/pkg/discovery"
	"github.com/Converse-Protocol/converse-go/pkg/protocol"
	"github.com/Converse-Protocol/converse-go/pkg/transport"
)

var (
	serverURL   = flag.String("server", "", "Manual server URL, e.g. ws://host:8931/converse (skip mDNS)")
	port        = flag.Int("port", 8931, "Port for mDNS advertisement")
	name        = flag.String("name", "", "Client friendly name (default: hostname-converse)")
	codecName   = flag.String("codec", "binary", "Wire codec: binary or json")
	token       = flag.String("token", "", "Bearer token for authentication")
	minBufferMs = flag.Int("min-buffer-ms", 60, "Minimum playback buffer in milliseconds")
	maxBufferMs = flag.Int("max-buffer-ms", 500, "Maximum playback buffer in milliseconds")
	logFile     = flag.String("log-file", "converse-client.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

// staticTokens serves a fixed bearer token from the command line.
type staticTokens struct {
	token string
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate()                               {}

func main() {
	flag.Parse()

	useTUI := !*noTUI

	logger, err := newLogger(*logFile, !useTUI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clientName := *name
	if clientName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		clientName = fmt.Sprintf("%s-converse", hostname)
	}

	logger.Info("starting converse client",
		zap.String("name", clientName),
		zap.String("version", version.Version))

	// TUI setup
	var tuiProg *tea.Program
	var controls *ui.Controls

	if useTUI {
		controls = ui.NewControls()
		tuiProg, err = ui.Run(controls)
		if err != nil {
			logger.Fatal("failed to start TUI", zap.Error(err))
		}
		go tuiProg.Run()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	// Resolve the server: manual URL or mDNS discovery.
	serverAddress := *serverURL
	if serverAddress == "" {
		logger.Info("starting server discovery")
		disc := discovery.NewManager(discovery.Config{
			ServiceName: clientName,
			Port:        *port,
			Logger:      logger,
		})
		disc.Advertise()
		disc.Browse()

		select {
		case server := <-disc.Servers():
			serverAddress = server.URL()
			logger.Info("discovered server", zap.String("url", serverAddress))
		case <-time.After(10 * time.Second):
			logger.Fatal("no server found after 10 seconds")
		}
		disc.Stop()
	}
	updateTUI(ui.StatusMsg{ServerName: serverAddress})

	var codec protocol.Codec
	switch *codecName {
	case "binary":
		codec = protocol.BinaryCodec{}
	case "json":
		codec = protocol.JSONCodec{}
	default:
		logger.Fatal("unknown codec", zap.String("codec", *codecName))
	}

	var tokens transport.TokenProvider
	if *token != "" {
		tokens = &staticTokens{token: *token}
	}

	session, err := converse.NewSession(converse.Config{
		ServerURL:   serverAddress,
		Tokens:      tokens,
		Codec:       codec,
		MinBufferMs: *minBufferMs,
		MaxBufferMs: *maxBufferMs,
		Animation:   &tuiAnimation{update: updateTUI},
		Transcript:  &tuiTranscript{update: updateTUI},
		Logger:      logger,
		OnStateChange: func(state transport.State) {
			updateTUI(ui.StatusMsg{ConnState: state.String()})
		},
		OnError: func(domain string, err error) {
			logger.Warn("session error", zap.String("domain", domain), zap.Error(err))
		},
		OnNotice: func(domain string) {
			logger.Warn("degraded mode", zap.String("domain", domain))
		},
		OnConnectionFailed: func() {
			logger.Error("connection lost and reconnection exhausted")
			updateTUI(ui.StatusMsg{ConnState: "error"})
		},
	})
	if err != nil {
		logger.Fatal("failed to create session", zap.Error(err))
	}

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		logger.Fatal("connection failed", zap.Error(err))
	}
	logger.Info("connected", zap.String("server", serverAddress))

	if controls != nil {
		go handleControls(session, controls, logger)
	}
	go statsUpdateLoop(session, updateTUI)

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if controls != nil {
		select {
		case <-controls.Quit:
			logger.Info("quit requested from TUI")
		case <-sigChan:
			logger.Info("shutdown signal received")
		}
	} else {
		<-sigChan
		logger.Info("shutdown signal received")
	}

	if err := session.Close(); err != nil {
		logger.Warn("error closing session", zap.Error(err))
	}
	logger.Info("client stopped")
}

// newLogger builds a production logger writing to the log file, and to
// stdout as well when the TUI is disabled.
func newLogger(path string, console bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if console {
		cfg.OutputPaths = []string{"stdout", path}
	} else {
		cfg.OutputPaths = []string{path}
	}
	return cfg.Build()
}

// handleControls forwards TUI intent to the session.
func handleControls(session *converse.Session, controls *ui.Controls, logger *zap.Logger) {
	for {
		select {
		case text := <-controls.Texts:
			if err := session.SendText(text); err != nil {
				logger.Warn("failed to send text", zap.Error(err))
			}
		case <-controls.Interrupts:
			if err := session.Interrupt(); err != nil {
				logger.Warn("failed to send interrupt", zap.Error(err))
			}
		case <-controls.Quit:
			return
		}
	}
}

// statsUpdateLoop periodically pushes buffer health into the TUI.
func statsUpdateLoop(session *converse.Session, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		stats := session.Stats()
		turnID, _ := session.CurrentTurn()
		updateTUI(ui.StatusMsg{
			TurnID:    turnID,
			TargetMs:  stats.TargetBufferMs,
			Quality:   stats.NetworkQuality,
			Underruns: stats.UnderrunCount,
		})
	}
}

// tuiAnimation routes avatar state into the TUI. Blendshape frames are
// dropped here; a real renderer would consume them.
type tuiAnimation struct {
	update func(ui.StatusMsg)
}

func (a *tuiAnimation) SetState(state string) {
	a.update(ui.StatusMsg{AvatarState: state})
}

func (a *tuiAnimation) PushFrame(weights protocol.Weights) {}

// tuiTranscript routes transcript events into the TUI.
type tuiTranscript struct {
	update func(ui.StatusMsg)
}

func (t *tuiTranscript) OnDelta(turnID, text string) {
	t.update(ui.StatusMsg{Partial: text})
}

func (t *tuiTranscript) OnDone(turnID, finalText string) {
	t.update(ui.StatusMsg{Final: finalText})
}
