// Command frame.capture receives detector UDP packet streams from FEM
// front-end modules, reassembles them into frames, and reorders completed
// frames into supermodule stripe images.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arclight-data/frame.capture/internal/api"
	"github.com/arclight-data/frame.capture/internal/detector"
	"github.com/arclight-data/frame.capture/internal/detector/network"
	"github.com/arclight-data/frame.capture/internal/framedb"
)

var (
	femPortMap   = flag.String("fem-port-map", detector.DefaultFemPortMap, "port:fem_index pairs, comma separated")
	bitDepth     = flag.String("bit-depth", "12", "ASIC counter bit depth (1, 6, 12, 24)")
	imageWidth   = flag.Int("width", detector.DefaultImageWidth, "Output image width in pixels")
	imageHeight  = flag.Int("height", detector.DefaultImageHeight, "Output image height in pixels")
	numImages    = flag.Int("num-images", detector.DefaultNumImages, "Sub-images per frame")
	packetsLost  = flag.Uint64("packets-lost", 0, "Initial lost-packet counter")
	frameTimeout = flag.Duration("frame-timeout", detector.DefaultFrameTimeout, "Staleness threshold for incomplete frames")
	poolBuffers  = flag.Int("pool-buffers", 8, "Number of frame buffers to preallocate")
	poolBlock    = flag.Bool("pool-block", false, "Block on buffer pool exhaustion instead of dropping packets")
	rcvBuf       = flag.Int("rcvbuf", 8*1024*1024, "UDP socket receive buffer size in bytes")
	dbPath       = flag.String("db", "", "Path to frame statistics database (empty disables persistence)")
	apiListen    = flag.String("api-listen", ":8090", "Status API listen address (empty disables)")
	pcapFile     = flag.String("pcap", "", "Replay packets from a capture file instead of listening")
	debugMode    = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	detector.SetDebug(*debugMode)

	depth, err := detector.ParseBitDepth(*bitDepth)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	portMap, err := detector.ParseFemPortMap(*femPortMap)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	cfg := detector.Config{
		BitDepth:             depth,
		FemPortMap:           portMap,
		ImageWidth:           *imageWidth,
		ImageHeight:          *imageHeight,
		NumImages:            *numImages,
		InitialPacketsLost:   *packetsLost,
		FrameTimeout:         *frameTimeout,
		BlockOnPoolExhausted: *poolBlock,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var db *framedb.DB
	var acquisitionID string
	if *dbPath != "" {
		db, err = framedb.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open frame database: %v", err)
		}
		defer db.Close()
		acquisitionID, err = db.BeginAcquisition(depth.String(), cfg.NumImages)
		if err != nil {
			log.Fatalf("Failed to begin acquisition: %v", err)
		}
		log.Printf("Recording acquisition %s to %s", acquisitionID, *dbPath)
	}

	pool := detector.NewSlabPool(*poolBuffers, detector.MaxFrameSize, cfg.BlockOnPoolExhausted)
	loss := detector.NewLossCounter(cfg.InitialPacketsLost)
	recon := detector.NewReconstructor(cfg, detector.LogSink{}, loss)

	handler := func(f *detector.Frame) {
		hdr := f.Header()
		if err := recon.ProcessFrame(f); err != nil {
			log.Printf("Reconstruction of frame %d failed: %v", hdr.FrameNumber(), err)
		}
		if db != nil {
			expected := uint64(cfg.ExpectedPackets(cfg.NumFems()))
			received := uint64(hdr.TotalPacketsReceived())
			var lost uint64
			if received < expected {
				lost = expected - received
			}
			rec := framedb.FrameRecord{
				FrameNumber:     hdr.FrameNumber(),
				FrameState:      hdr.State().String(),
				NumActiveFems:   hdr.NumActiveFems(),
				PacketsReceived: hdr.TotalPacketsReceived(),
				PacketsLost:     lost,
				SOFMarkers:      hdr.TotalSOFMarkerCount(),
				EOFMarkers:      hdr.TotalEOFMarkerCount(),
			}
			if err := db.RecordFrame(acquisitionID, rec); err != nil {
				log.Printf("Failed to record frame %d: %v", hdr.FrameNumber(), err)
			}
		}
	}

	decoder := detector.NewDecoder(detector.DecoderConfig{
		Config:  cfg,
		Pool:    pool,
		Handler: handler,
	})
	defer decoder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	decoder.StartSweeper(ctx)

	if *apiListen != "" {
		statusServer := api.NewServer(decoder.Stats(), loss)
		mux := http.NewServeMux()
		statusServer.RegisterRoutes(mux)
		srv := &http.Server{Addr: *apiListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("Status API listening on %s", *apiListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Status API server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)
		cancel()
	}()

	if *pcapFile != "" {
		if err := network.ReplayPCAPFile(ctx, *pcapFile, decoder); err != nil && err != context.Canceled {
			log.Fatalf("PCAP replay failed: %v", err)
		}
		return
	}

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Ports:   cfg.Ports(),
		RcvBuf:  *rcvBuf,
		Handler: decoder,
		Stats:   decoder.Stats(),
	})
	if err := listener.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("UDP listener failed: %v", err)
	}
}
