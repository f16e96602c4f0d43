// Command ios-demo boots the kernel with a single in-memory loopback
// device and serves it until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	ios "github.com/hle-ios/kernel"
	"github.com/hle-ios/kernel/examples/loopback"
	"github.com/hle-ios/kernel/internal/logging"
)

const (
	demoProcID    = 1
	devicePath    = "/dev/loopback"
	queueUID      = 1
	serveThreadID = 100
)

func main() {
	var (
		sizeStr = flag.String("size", "16M", "Size of the loopback region (e.g., 16M, 1G)")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	mem := ios.NewMockMemoryTranslator(int(size))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := ios.DefaultKernelParams()
	kernel, err := ios.StartKernel(ctx, params, &ios.BootOptions{
		Memory: mem,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to start kernel", "error", err)
		os.Exit(1)
	}
	defer kernel.Stop()

	dev, err := loopback.New(kernel, demoProcID, devicePath, size, loopback.Options{
		QueueUID:      queueUID,
		ThreadID:      serveThreadID,
		QueueCapacity: 32,
		Priority:      80,
	})
	if err != nil {
		logger.Error("failed to register loopback device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	logger.Info("kernel started", "device", devicePath, "size", formatSize(size))
	fmt.Printf("IOS kernel running with loopback device %s (%s)\n", devicePath, formatSize(size))
	fmt.Printf("Press Ctrl+C to stop...\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
