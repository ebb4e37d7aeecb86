// The meshline command runs a local audio loopback node: it captures
// from the default microphone, encodes, and plays back through the
// default speaker using the same source/sink engine a mesh call leg
// uses. Prometheus metrics are served on the configured address.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/meshline/meshline/cmd/config"
	"github.com/meshline/meshline/internal/observe"
	"github.com/meshline/meshline/internal/utils"
	"github.com/meshline/meshline/pkg/audiodevice/device"
	"github.com/meshline/meshline/pkg/codec"
	"github.com/meshline/meshline/pkg/stream"
)

func newCodecPair() (codec.Codec, codec.Codec, error) {
	numChannels := viper.GetInt("numchannels")
	switch name := viper.GetString("codec"); name {
	case "opus":
		enc, errEnc := codec.NewOpusCodec(48000, numChannels)
		dec, errDec := codec.NewOpusCodec(48000, numChannels)
		return enc, dec, errors.Join(errEnc, errDec)
	case "pcm":
		return codec.PCMCodec{}, codec.PCMCodec{}, nil
	default:
		return nil, nil, errors.New("unknown codec " + name)
	}
}

func sourceOptions() []stream.SourceOption {
	opts := []stream.SourceOption{
		stream.WithFrameDuration(time.Duration(viper.GetInt("framedurationms")) * time.Millisecond),
		stream.WithGain(float32(viper.GetFloat64("gain"))),
		stream.WithNumChannels(viper.GetInt("numchannels")),
	}
	if rate := viper.GetInt("capturesamplerate"); rate > 0 {
		opts = append(opts, stream.WithCaptureSampleRate(rate))
	}
	return opts
}

func sinkOptions(decoder codec.Codec) []stream.SinkOption {
	opts := []stream.SinkOption{stream.WithSinkCodec(decoder)}
	if !viper.GetBool("autostart") {
		opts = append(opts, stream.WithoutAutoStart())
	}
	if viper.GetBool("lowlatency") {
		opts = append(opts, stream.WithLowLatency())
	}
	return opts
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --------------------------------------------------------------------------------

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "meshline"})
	if err != nil {
		slog.Error("error while initializing metrics provider", "err", err)
		panic(err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Error("error while shutting down metrics provider", "err", err)
		}
	}()

	// --------------------------------------------------------------------------------

	encoder, decoder, err := newCodecPair()
	if err != nil {
		slog.Error("error while creating codec", "err", err)
		panic(err)
	}

	source := stream.NewLineSource(device.NewPortAudioCapture(), encoder, sourceOptions()...)
	sink := stream.NewLineSink(device.NewOtoPlayback(), sinkOptions(decoder)...)
	source.SetSink(sink)

	if err := source.Start(); err != nil {
		slog.Error("error while starting capture", "err", err)
		panic(err)
	}
	defer source.Stop()
	defer sink.Stop()

	slog.Info(
		"meshline loopback running",
		"sampleRate", source.Properties().SampleRate,
		"frameDuration", source.FrameDuration(),
	)

	// --------------------------------------------------------------------------------

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    viper.GetString("metricsaddr"),
		Handler: mux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		slog.Error("error while serving metrics", "err", err)
	}
	slog.Info("shutting down")
}
