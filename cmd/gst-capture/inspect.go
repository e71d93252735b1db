package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Idein/actfw-gstreamer/engine"
	"github.com/Idein/actfw-gstreamer/engine/gstengine"
	"github.com/Idein/actfw-gstreamer/internal/config"
	"github.com/Idein/actfw-gstreamer/pipeline"
)

func newInspectCommand() *cobra.Command {
	var build bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the resolved pipeline and check its elements are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			eng := gstengine.Init(nil)
			return inspect(cmd.OutOrStdout(), eng, gstengine.Available, cfg, build)
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "Also build the pipeline once, without starting it")
	return cmd
}

// inspect prints the pipeline cfg describes. available reports whether an
// element factory is installed.
func inspect(w io.Writer, eng engine.Engine, available func(string) bool, cfg *config.Config, build bool) error {
	gen, err := cfg.Generator(eng)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Pipeline:   %s\n", gen)
	fmt.Fprintf(w, "Sink caps:  %s\n", gen.Caps())
	fmt.Fprintf(w, "Converter:  %s\n", cfg.Converter)
	fmt.Fprintf(w, "Restart:    %s (connection lost threshold %s)\n", cfg.Restart.Policy, cfg.Restart.ConnectionLostThreshold)
	fmt.Fprintf(w, "\nElements:\n")

	var missing []string
	for i, spec := range gen.Specs() {
		status := "ok"
		if !available(spec.Factory) {
			status = "MISSING"
			missing = append(missing, spec.Factory)
		}
		fmt.Fprintf(w, "  %2d. %-14s %-8s %-7s %s\n", i+1, spec.Factory, spec.Kind, status, describe(spec))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing element factories: %v", missing)
	}

	if build {
		built, err := gen.Build()
		if err != nil {
			return err
		}
		if err := built.Pipeline.SetState(engine.StateNull); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nBuild:      ok\n")
	}
	return nil
}

func describe(spec pipeline.ElementSpec) string {
	if spec.Kind == pipeline.KindCapsFilter {
		return spec.Caps
	}
	return spec.Props.String()
}
