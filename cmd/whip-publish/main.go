package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethanmoon/whip-publish/pkg/config"
	"github.com/ethanmoon/whip-publish/pkg/h264nal"
	"github.com/ethanmoon/whip-publish/pkg/logger"
	"github.com/ethanmoon/whip-publish/pkg/mediasrc"
	"github.com/ethanmoon/whip-publish/pkg/pacer"
	"github.com/ethanmoon/whip-publish/pkg/session"
)

func main() {
	fs := flag.NewFlagSet("whip-publish", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	envPath := fs.String("env", ".env", "path to the .env config file")
	videoPath := fs.String("video", "", "path to a mediasrc-framed H.264 access-unit file")
	audioPath := fs.String("audio", "", "path to a mediasrc-framed Opus frame file")
	extradataPath := fs.String("extradata", "", "path to H.264 AVCC or Annex-B extradata")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nWHIP publisher\n\nOptions:\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	out := io.Writer(os.Stdout)
	if logFlags.LogFile != "" {
		f, err := os.Create(logFlags.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	log := logger.New(logConfig, out)
	log.Info().Str("flags", logFlags.String()).Msg("starting whip-publish")

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	extradata, err := os.ReadFile(*extradataPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to read extradata")
		os.Exit(1)
	}
	if _, err := h264nal.ParseExtradata(extradata); err != nil {
		log.Error().Err(err).Msg("extradata failed to parse")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Stringer("signal", sig).Msg("received shutdown signal")
		cancel()
	}()

	sess, err := session.New(session.Config{
		ListenAddr:       cfg.ListenAddr,
		WhipEndpoint:     cfg.WhipEndpoint,
		BearerToken:      cfg.BearerToken,
		VideoExtradata:   extradata,
		VideoPayloadType: cfg.VideoPayloadType,
		AudioPayloadType: cfg.AudioPayloadType,
		AudioClockRate:   cfg.AudioClockRate,
		PktSize:          cfg.PktSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CertCommonName:   cfg.CertCommonName,
	}, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := sess.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("error during session teardown")
		}
	}()

	if err := sess.Publish(ctx); err != nil {
		log.Error().Err(err).Msg("failed to publish session")
		os.Exit(1)
	}
	log.Info().Msg("session ready, streaming")

	videoReader, err := mediasrc.OpenVideo(*videoPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open video source")
		os.Exit(1)
	}
	defer videoReader.Close()

	var audioReader *mediasrc.AudioReader
	if *audioPath != "" {
		audioReader, err = mediasrc.OpenAudio(*audioPath)
		if err != nil {
			log.Error().Err(err).Msg("failed to open audio source")
			os.Exit(1)
		}
		defer audioReader.Close()
	}

	writeVideo := func(payload [][]byte, timestamp uint32, keyframe bool) error {
		return sess.WriteVideoAccessUnit(payload, timestamp, keyframe)
	}
	writeAudio := func(payload [][]byte, timestamp uint32, keyframe bool) error {
		if len(payload) == 0 {
			return nil
		}
		return sess.WriteAudioFrame(payload[0], timestamp)
	}

	p := pacer.New(ctx, log.Logger, 90000, cfg.AudioClockRate, writeVideo, writeAudio)
	p.Start()
	defer p.Stop()

	if audioReader != nil {
		go streamAudio(ctx, log, audioReader, p)
	}

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := sess.Stats()
				log.Info().Int64("dtls_retransmits", stats.DTLSRetransmits).Interface("phase_timings", stats.PhaseTimings).Msg("streaming statistics")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown requested, stopping video stream")
			return
		default:
		}

		unit, err := videoReader.Next()
		if err == io.EOF {
			log.Info().Msg("video source exhausted")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to read video access unit")
			return
		}

		nalus := h264nal.SplitAnnexB(unit.AnnexB)
		if len(nalus) == 0 {
			continue
		}
		if err := p.EnqueueVideo(pacer.Unit{Timestamp: unit.Timestamp, Keyframe: unit.Keyframe, Payload: nalus}); err != nil {
			log.Error().Err(err).Msg("failed to enqueue video access unit")
			return
		}
	}
}

// opusFrameSamples is the 20ms-at-48kHz frame size used to synthesize a
// monotonic timestamp for pacing; session.WriteAudioFrame ignores this
// value itself once FixedOpusTimestamps takes over downstream.
const opusFrameSamples = 960

func streamAudio(ctx context.Context, log logger.Logger, r *mediasrc.AudioReader, p *pacer.Pacer) {
	var frameCount uint32
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := r.Next()
		if err == io.EOF {
			log.Info().Msg("audio source exhausted")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to read audio frame")
			return
		}
		unit := pacer.Unit{Timestamp: frameCount * opusFrameSamples, Payload: [][]byte{frame}}
		frameCount++
		if err := p.EnqueueAudio(unit); err != nil {
			log.Error().Err(err).Msg("failed to enqueue audio frame")
			return
		}
	}
}
