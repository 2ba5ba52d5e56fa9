package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkwise/attribution-engine/internal/model"
)

var attributeCmd = &cobra.Command{
	Use:   "attribute [file]",
	Short: "Run the attribution ladder for a single conversion",
	Long: `Reads a JSON document with "event" and "context" fields from the given
file (or stdin when omitted), runs the full attribution ladder, and prints
the decision with its audit trail as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open input")
			}
			defer f.Close()
			in = f
		}

		var req struct {
			Event   model.ConversionEvent `json:"event"`
			Context model.UserContext     `json:"context"`
		}
		if err := json.NewDecoder(in).Decode(&req); err != nil {
			return eris.Wrap(err, "decode input")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result := env.Ladder.Attribute(cmd.Context(), req.Event, req.Context)

		zap.L().Info("attribution complete",
			zap.String("method", string(result.Method)),
			zap.Float64("confidence", result.Confidence),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(attributeCmd)
}
