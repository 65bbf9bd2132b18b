// Command mscdisk creates, serves, and inspects USB mass storage disk
// images backed by the device/class/msc package.
//
// Usage:
//
//	mscdisk create <path> --blocks 2048
//	mscdisk serve <bus-dir> --image disk.img
//	mscdisk inspect <path>
package main

import (
	"log/slog"
	"net/http"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/usbmsc/pkg"
)

const (
	programName = "mscdisk"
	programDesc = "create, serve, and inspect USB mass storage disk images"
)

func main() {
	kctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if cli.Verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if cli.JSON {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	registry := prometheus.NewRegistry()
	if cli.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil {
				pkg.LogError(pkg.ComponentDevice, "metrics server stopped", "error", err)
			}
		}()
		pkg.LogInfo(pkg.ComponentDevice, "serving prometheus metrics", "addr", cli.MetricsAddr)
	}

	err := kctx.Run(&runContext{registry: registry})
	kctx.FatalIfErrorf(err)
}
