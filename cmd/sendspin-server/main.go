// ABOUTME: Entry point for the Sendspin streaming server
// ABOUTME: Parses CLI flags and starts the server application
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/pkg/sendspin"
)

var (
	bindAddr        = flag.String("bind", "", "Address to listen on (default: all interfaces)")
	port            = flag.Int("port", 8927, "WebSocket server port")
	name            = flag.String("name", "", "Server friendly name (default: hostname-sendspin-server)")
	wsPath          = flag.String("ws-path", "/sendspin", "HTTP path the websocket endpoint is served on")
	chunkIntervalMs = flag.Int("chunk-interval-ms", 20, "Audio chunk generation interval in milliseconds")
	bufferAheadMs   = flag.Int("buffer-ahead-ms", 500, "How far ahead of now each chunk's playback deadline is set, in milliseconds")
	shutdownGraceMs = flag.Int("shutdown-grace-ms", 5000, "How long to wait for in-flight sessions to drain on shutdown before forcing them closed")
	logFile         = flag.String("log-file", "sendspin-server.log", "Log file path")
	noMDNS          = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	tui             = flag.Bool("tui", false, "Show the terminal status dashboard")
	debug           = flag.Bool("debug", false, "Enable verbose per-message logging")
	audioInput      = flag.String("audio", "", "Audio file or URL to stream (MP3, FLAC). If not specified, plays a test tone")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(os.Stdout, f))

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-sendspin-server", hostname)
	}

	source, err := audio.NewFileOrURLSource(*audioInput)
	if err != nil {
		log.Fatalf("error opening audio source: %v", err)
	}

	log.Printf("Starting Sendspin Server: %s on port %d", serverName, *port)
	log.Printf("Logging to: %s", *logFile)
	log.Printf("Press Ctrl-C to stop")

	srv, err := sendspin.NewServer(sendspin.ServerConfig{
		BindAddr:        *bindAddr,
		Port:            *port,
		Name:            serverName,
		Source:          source,
		WSPath:          *wsPath,
		ChunkIntervalMs: *chunkIntervalMs,
		BufferAheadMs:   *bufferAheadMs,
		ShutdownGraceMs: *shutdownGraceMs,
		EnableMDNS:      !*noMDNS,
		EnableDashboard: *tui,
		Debug:           *debug,
	})
	if err != nil {
		log.Fatalf("error creating server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Printf("server stopped")
}
