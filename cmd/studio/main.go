package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cbegin/seqstudio-go"
	"github.com/cbegin/seqstudio-go/internal/config"
	"github.com/cbegin/seqstudio-go/internal/encoder"
	"github.com/cbegin/seqstudio-go/internal/track"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Play and render multitrack sequencer projects",
	Long: `studio plays YAML sequencer projects on the default audio device
and renders them offline to MP3 or WAV.

Examples:
  studio play song.yaml
  studio render song.yaml -o song.mp3
  studio import-midi tune.mid -o song.yaml --wave square`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		slog.SetDefault(cfg.Logger(os.Stderr))
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play <project.yaml>",
	Short: "Play a project until its last note ends",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render <project.yaml>",
	Short: "Render a project offline to MP3 or WAV",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var importMIDICmd = &cobra.Command{
	Use:   "import-midi <file.mid>",
	Short: "Convert a standard MIDI file into a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportMIDI,
}

var exportMIDICmd = &cobra.Command{
	Use:   "export-midi <project.yaml>",
	Short: "Write a project's notes as a standard MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportMIDI,
}

var gridCmd = &cobra.Command{
	Use:   "grid <project.yaml>",
	Short: "Print beat grid numbers and offsets at a position",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrid,
}

var (
	configPath string
	cfg        *config.Config

	// play flags
	playTempo  float64
	playVolume float64

	// render flags
	renderOutput string
	renderFormat string

	// import flags
	importOutput string
	importWave   string
	importSample string

	// export flags
	exportOutput string

	// grid flags
	gridHorizon int
	gridSpacing float64
	gridAt      float64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(importMIDICmd)
	rootCmd.AddCommand(exportMIDICmd)
	rootCmd.AddCommand(gridCmd)

	playCmd.Flags().Float64Var(&playTempo, "tempo", 0, "override project tempo (bpm)")
	playCmd.Flags().Float64Var(&playVolume, "volume", -1, "override master volume [0,1]")

	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "output file (default: <output_dir>/<project>.<format>)")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "", "mp3, wav or wav32 (default: from output extension, else mp3)")

	importMIDICmd.Flags().StringVarP(&importOutput, "output", "o", "", "output project file (default: stdout)")
	importMIDICmd.Flags().StringVar(&importWave, "wave", "square", "synth wave for imported tracks")
	importMIDICmd.Flags().StringVar(&importSample, "sample", "", "use a sampler instrument with this sample file instead of a synth")

	exportMIDICmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output MIDI file (required)")
	_ = exportMIDICmd.MarkFlagRequired("output")

	gridCmd.Flags().IntVar(&gridHorizon, "horizon", 16, "number of beats")
	gridCmd.Flags().Float64Var(&gridSpacing, "spacing", 40, "horizontal units per beat")
	gridCmd.Flags().Float64Var(&gridAt, "at", 0, "seconds of playback to simulate before printing")
}

func studioOptions(projectPath string) []seqstudio.Option {
	dir := cfg.Samples.Dir
	if dir == "" || dir == "." {
		dir = filepath.Dir(projectPath)
	}
	return []seqstudio.Option{
		seqstudio.WithSampleRate(cfg.Audio.SampleRate),
		seqstudio.WithTickFrames(cfg.Audio.TickFrames),
		seqstudio.WithLookahead(cfg.Audio.LookaheadBeats),
		seqstudio.WithSampleDir(dir),
		seqstudio.WithMaxConcurrentLoads(cfg.Samples.MaxConcurrent),
		seqstudio.WithLogger(slog.Default()),
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := track.LoadProject(args[0])
	if err != nil {
		return err
	}
	s, err := seqstudio.New(p, studioOptions(args[0])...)
	if err != nil {
		return err
	}
	defer s.Close()
	if playTempo > 0 {
		if err := s.SetTempo(playTempo); err != nil {
			return err
		}
	}
	if playVolume >= 0 {
		s.SetMasterVolume(playVolume)
	}

	if err := <-s.LoadSamples(ctx); err != nil {
		slog.Warn("some samples failed to load; their notes will be silent", "error", err)
	}
	out, err := s.OpenOutput(50 * time.Millisecond)
	if err != nil {
		return err
	}
	defer out.Close()

	events := s.Watch()
	if err := s.Play(); err != nil {
		return err
	}
	out.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "playing %s at %.1f bpm\n", filepath.Base(args[0]), s.Tempo())
	// Events are informational and may be dropped. The output stream ends
	// once the studio reports Ended, so completion is polled on the device.
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			fmt.Fprintln(cmd.OutOrStdout(), "\nstopped")
			return nil
		case ev := <-events:
			if ev.Kind == seqstudio.EventNoteOn {
				slog.Debug("note on", "track", ev.Track, "beat", ev.Beat, "pitch", ev.Note.Pitch)
			}
		case <-poll.C:
			if !out.Running() {
				fmt.Fprintln(cmd.OutOrStdout(), "playback completed")
				return nil
			}
		}
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := track.LoadProject(args[0])
	if err != nil {
		return err
	}
	format, output, err := resolveOutput(args[0])
	if err != nil {
		return err
	}

	bar := newBar(-1, "[cyan][1/2][reset] Rendering...")
	opts := append(studioOptions(args[0]), seqstudio.WithRenderProgress(func(done, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(done)
	}))
	left, right, err := seqstudio.Render(ctx, p, cfg.Render.TailSeconds, opts...)
	if err != nil {
		return err
	}
	_ = bar.Finish()

	var data []byte
	switch format {
	case "mp3":
		data, err = encodeMP3(ctx, left, right)
	case "wav":
		var buf bytes.Buffer
		err = seqstudio.EncodeWAV(&buf, left, right, cfg.Audio.SampleRate)
		data = buf.Bytes()
	case "wav32":
		data, err = seqstudio.EncodeWAVFloat32LE(left, right, cfg.Audio.SampleRate)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nwrote %s (%d bytes, %.1fs)\n", output, len(data), float64(len(left))/float64(cfg.Audio.SampleRate))
	return nil
}

func encodeMP3(ctx context.Context, left, right []float32) ([]byte, error) {
	params := cfg.Encoder
	params.SampleRate = cfg.Audio.SampleRate
	w := encoder.NewWorker(encoder.NewShine, params, encoder.WithLogger(slog.Default()))
	defer w.Close()

	bar := newBar(len(left), "[cyan][2/2][reset] Encoding MP3...")
	res, err := seqstudio.RenderMP3(ctx, w, left, right, func(done, total int) {
		_ = bar.Set(done)
	})
	if err != nil {
		return nil, err
	}
	_ = bar.Finish()
	if res.Status != encoder.StatusOK {
		return nil, fmt.Errorf("encode job %s: %w", res.Job, res.Err)
	}
	return res.Bytes(), nil
}

func resolveOutput(projectPath string) (format, output string, err error) {
	format = strings.ToLower(renderFormat)
	output = renderOutput
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".wav":
			format = "wav"
		default:
			format = "mp3"
		}
	}
	switch format {
	case "mp3", "wav", "wav32":
	default:
		return "", "", fmt.Errorf("unknown format %q", format)
	}
	if output == "" {
		ext := format
		if ext == "wav32" {
			ext = "wav"
		}
		base := strings.TrimSuffix(filepath.Base(projectPath), filepath.Ext(projectPath))
		output = filepath.Join(cfg.Render.OutputDir, base+"."+ext)
	}
	return format, output, nil
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
	)
}

func runImportMIDI(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	in := track.Instrument{ID: base, Kind: track.Synth, Synth: &track.SynthDef{Wave: importWave}}
	if importSample != "" {
		in = track.Instrument{ID: base, Kind: track.Sampler, Path: importSample}
	}
	p, err := track.ImportMIDI(f, in)
	if err != nil {
		return err
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	if importOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(importOutput, data, 0o644); err != nil {
		return err
	}
	slog.Info("imported midi", "file", args[0], "tracks", len(p.Tracks), "tempo", p.Tempo, "output", importOutput)
	return nil
}

func runExportMIDI(cmd *cobra.Command, args []string) error {
	p, err := track.LoadProject(args[0])
	if err != nil {
		return err
	}
	f, err := os.Create(exportOutput)
	if err != nil {
		return err
	}
	if err := track.ExportMIDI(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runGrid(cmd *cobra.Command, args []string) error {
	p, err := track.LoadProject(args[0])
	if err != nil {
		return err
	}
	s, err := seqstudio.New(p, studioOptions(args[0])...)
	if err != nil {
		return err
	}
	defer s.Close()
	if gridAt > 0 {
		if err := s.Play(); err != nil {
			return err
		}
		frames := int(gridAt * float64(cfg.Audio.SampleRate))
		s.Process(make([]float32, 2*frames))
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "beat %.3f (anchored at %.3f)\n", s.CurrentBeat(), s.PlayingStartBeat())
	for _, c := range s.Grid(gridHorizon, gridSpacing) {
		marker := " "
		if c.Current {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %3d  %8.1f\n", marker, c.Number, c.Offset)
	}
	return nil
}
