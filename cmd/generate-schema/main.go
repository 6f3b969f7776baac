// Command generate-schema writes the JSON schema of the DittoHTTP
// configuration file, for editor completion and CI validation of configs.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittohttp/pkg/config"
)

func main() {
	var output string

	cmd := &cobra.Command{
		Use:           "generate-schema",
		Short:         "Write the JSON schema of the configuration file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				return writeSchema(cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := writeSchema(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "config.schema.json", "destination file, - for stdout")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// writeSchema reflects config.Config using the mapstructure keys viper reads.
func writeSchema(w io.Writer) error {
	reflector := jsonschema.Reflector{
		FieldNameTag:   "mapstructure",
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoHTTP Configuration"
	schema.Description = "Configuration file of the DittoHTTP static file server"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
