package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonstreeter/comfyui-archive-output/internal/archiver"
	"github.com/jonstreeter/comfyui-archive-output/internal/compressor"
	"github.com/jonstreeter/comfyui-archive-output/internal/config"
	"github.com/jonstreeter/comfyui-archive-output/internal/logger"
	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"
	"github.com/jonstreeter/comfyui-archive-output/internal/web"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	outputDir string
	verbose   bool
	quiet     bool
	port      int

	archiveFolder  string
	skipHidden     bool
	skipExtensions string

	compressTarget string
	quality        int
	outputFormat   string
	deleteOriginal bool
	recursive      bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "comfyui-archive-output",
	Short: "Archive and compress ComfyUI output files",
	Long: `comfyui-archive-output manages a ComfyUI output directory:

- Archives finished files into date-stamped folders, preserving the
  relative directory structure and removing folders left empty
- Compresses PNG renders to JPEG or WEBP while carrying the embedded
  workflow and prompt metadata over to the compressed file
- Serves an HTTP API with live WebSocket progress for both operations`,
}

// archiveCmd runs one archive pass over the output directory.
var archiveCmd = &cobra.Command{
	Use:   "archive [directory]",
	Short: "Move finished files into date-stamped archive folders",
	Long: `Runs a single archive pass over the output directory. Every eligible
file moves to <output>/<folder>/<YYYY-MM-DD>/<relative-path> based on its
modification date. Files already present in the archive are skipped, and
directories left empty by the pass are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(cmd, args)
	},
}

// compressCmd starts a compression batch and follows it to completion.
var compressCmd = &cobra.Command{
	Use:   "compress [directory]",
	Short: "Compress PNG files to JPEG or WEBP",
	Long: `Compresses PNG files under the output directory (or the --target
subdirectory) to JPEG or WEBP. Workflow and prompt metadata embedded by
ComfyUI is preserved in the compressed file's EXIF tags where it fits.
Press Ctrl+C to cancel; the file being processed still completes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// statusCmd summarizes the output directory without changing anything.
var statusCmd = &cobra.Command{
	Use:   "status [directory]",
	Short: "Show pending files and compression candidates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the HTTP API on the given port. The API exposes:

  POST /api/archive/execute    run an archive pass
  GET  /api/archive/status     count files awaiting archiving
  POST /api/compress/execute   start a compression batch
  GET  /api/compress/progress  poll batch progress
  POST /api/compress/cancel    cancel the running batch
  GET  /api/compress/status    compression capability and candidates
  /ws                          WebSocket progress stream`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "ComfyUI output directory to manage")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	archiveCmd.Flags().StringVar(&archiveFolder, "folder", "", "archive folder name (default: Archive)")
	archiveCmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "skip hidden files")
	archiveCmd.Flags().StringVar(&skipExtensions, "skip-extensions", "", "comma-separated extensions to leave in place")

	compressCmd.Flags().StringVar(&compressTarget, "target", "", "subdirectory to compress (default: whole output directory)")
	compressCmd.Flags().IntVar(&quality, "quality", 0, "compression quality 1-100 (default from config)")
	compressCmd.Flags().StringVar(&outputFormat, "format", "", "output format: JPEG or WEBP (default from config)")
	compressCmd.Flags().BoolVar(&deleteOriginal, "delete-original", false, "delete PNG files after successful compression")
	compressCmd.Flags().BoolVar(&recursive, "recursive", true, "recurse into subdirectories")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run the API server on")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

// initEnv loads a local .env file, if present, before viper reads the
// environment.
func initEnv() {
	_ = godotenv.Load()
}

// loadConfig loads configuration and applies CLI overrides. The output
// directory flag and positional argument are injected through the
// environment so they participate in validation like any other source.
func loadConfig(args []string) (*config.Config, error) {
	dir := outputDir
	if dir == "" && len(args) > 0 {
		dir = args[0]
	}
	if dir != "" {
		os.Setenv("COMFY_ARCHIVE_OUTPUT_DIRECTORY", dir)
	}

	return config.LoadConfig(cfgFile)
}

// runArchive executes a single synchronous archive pass.
func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	req := archiver.Request{
		FolderName:     cfg.Archive.FolderName,
		SkipHidden:     cfg.Archive.SkipHidden,
		SkipExtensions: cfg.Archive.SkipExtensions,
	}
	if archiveFolder != "" {
		req.FolderName = archiveFolder
	}
	if cmd.Flags().Changed("skip-hidden") {
		req.SkipHidden = skipHidden
	}
	if skipExtensions != "" {
		req.SkipExtensions = skipExtensions
	}

	log := setupLogger(cfg)
	eng := archiver.New(cfg.OutputDirectory, log)

	result := eng.Run(req)
	if !result.Success {
		return fmt.Errorf("archive failed: %s", result.Error)
	}

	if !quiet {
		fmt.Printf("Archive complete: %s\n", result.ArchiveLocation)
		fmt.Printf("  Moved:        %d\n", result.Moved)
		fmt.Printf("  Skipped:      %d\n", result.Skipped)
		fmt.Printf("  Errors:       %d\n", result.Errors)
		fmt.Printf("  Removed dirs: %d\n", result.RemovedDirs)
	}
	if result.Errors > 0 {
		return fmt.Errorf("%d files could not be moved", result.Errors)
	}
	return nil
}

// runCompress starts a batch and polls it to completion, translating
// Ctrl+C into a cooperative cancel.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	req := compressor.Request{
		TargetDirectory: cfg.Compression.TargetDirectory,
		Quality:         cfg.Compression.Quality,
		OutputFormat:    cfg.Compression.OutputFormat,
		DeleteOriginal:  cfg.Compression.DeleteOriginal,
		Recursive:       cfg.Compression.Recursive,
	}
	if compressTarget != "" {
		req.TargetDirectory = compressTarget
	}
	if quality != 0 {
		req.Quality = quality
	}
	if outputFormat != "" {
		req.OutputFormat = outputFormat
	}
	if cmd.Flags().Changed("delete-original") {
		req.DeleteOriginal = deleteOriginal
	}
	if cmd.Flags().Changed("recursive") {
		req.Recursive = recursive
	}

	log := setupLogger(cfg)
	codec := metadata.NewCodec(log)
	eng := compressor.New(cfg.OutputDirectory, log, codec)

	if !codec.Available() && !quiet {
		fmt.Fprintln(os.Stderr, "Warning: exiftool not found; compressed files will not carry workflow metadata")
	}

	if err := eng.Start(req); err != nil {
		return fmt.Errorf("could not start compression: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nCancelling after the current file...")
			_ = eng.Cancel()
		case <-ticker.C:
		}

		snap := eng.Progress()
		if !snap.Running {
			return printCompressSummary(snap)
		}
		if !quiet && snap.Total > 0 {
			fmt.Printf("\r[%d/%d] %s", snap.Current, snap.Total, snap.CurrentFile)
		}
	}
}

// printCompressSummary prints the final batch snapshot.
func printCompressSummary(snap compressor.Snapshot) error {
	if snap.LastError != "" {
		return fmt.Errorf("compression failed: %s", snap.LastError)
	}

	if !quiet {
		fmt.Printf("\nCompression complete\n")
		fmt.Printf("  Compressed: %d of %d\n", snap.Compressed, snap.Total)
		fmt.Printf("  Errors:     %d\n", snap.Errors)
		fmt.Printf("  Savings:    %d bytes (%.1f%%)\n", snap.SavingsBytes, snap.SavingsPercent)
		fmt.Printf("  Metadata:   %d full, %d workflow-only, %d none\n",
			snap.MetadataFull, snap.MetadataPartial, snap.MetadataNone)
	}
	if snap.Errors > 0 {
		return fmt.Errorf("%d files failed to compress", snap.Errors)
	}
	return nil
}

// runStatus prints both engines' status summaries.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	arch := archiver.New(cfg.OutputDirectory, log)
	comp := compressor.New(cfg.OutputDirectory, log, metadata.NewCodec(log))

	archStatus := arch.Status()
	compStatus := comp.Status()

	fmt.Printf("Output directory: %s\n", archStatus.OutputDirectory)
	fmt.Printf("  Files awaiting archive: %d\n", archStatus.FileCount)
	fmt.Printf("  PNG files to compress:  %d (%d bytes)\n", compStatus.SourceCount, compStatus.SourceBytes)
	fmt.Printf("  Metadata preservation:  %v\n", compStatus.MetadataAvailable)
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	arch := archiver.New(cfg.OutputDirectory, log)
	comp := compressor.New(cfg.OutputDirectory, log, metadata.NewCodec(log))
	server := web.NewServer(cfg, log, arch, comp)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	if !quiet {
		fmt.Printf("API server listening on http://localhost:%d\n", port)
		fmt.Printf("Press Ctrl+C to stop\n")
	}

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.DefaultConfig()
	loggerCfg.Level = cfg.Logging.Level
	loggerCfg.FilePath = cfg.Logging.FilePath
	loggerCfg.MaxSize = cfg.Logging.MaxSize
	loggerCfg.MaxBackups = cfg.Logging.MaxBackups
	loggerCfg.MaxAge = cfg.Logging.MaxAge
	loggerCfg.Compress = cfg.Logging.Compress
	loggerCfg.Console = !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
