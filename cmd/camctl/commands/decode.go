package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/hifi"
	"github.com/edge-vision/camctl/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errObjectNotFound = errors.New("object not found")

var (
	decodeType   string
	decodeFile   string
	decodeS3Key  string
	decodeFormat string
	decodeRaw    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode --type anomaly_hifi (-f FILE | --s3-key KEY)",
	Short: "Decode an inference result envelope",
	Long: `Decodes the first inference of a result envelope, as saved by stage_infer,
from a local file or from the configured S3 bucket.
  --raw           treat the input as the decoded binary payload instead of JSON
  --format table  Width, Height, AnomalyScore and the heatmap grid
  --format json   the decoded fields as JSON
  --format yaml   the decoded fields as YAML`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeType, "type", "T", string(hifi.AnomalyHifi), "Result type")
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "Result envelope file")
	decodeCmd.Flags().StringVar(&decodeS3Key, "s3-key", "", "Result envelope S3 key")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", "table", "Output format (table, json, yaml)")
	decodeCmd.Flags().BoolVar(&decodeRaw, "raw", false, "Input is the binary payload")
	decodeCmd.MarkFlagsMutuallyExclusive("file", "s3-key")
	decodeCmd.MarkFlagsOneRequired("file", "s3-key")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if _, err := hifi.ParseResultType(decodeType); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var data []byte
	if decodeFile != "" {
		data, err = readLimited(decodeFile, cfg.MaxEnvelopeSize)
	} else {
		if cfg.S3Bucket == "" {
			return fmt.Errorf("--s3-key requires s3-bucket to be configured")
		}
		var client *storage.Client
		client, err = storage.NewClient(cmd.Context(), cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		data, err = readObject(cmd.Context(), client, decodeS3Key, cfg.MaxEnvelopeSize)
	}
	if err != nil {
		return err
	}

	result, err := decodeEnvelope(data, decodeRaw)
	if err != nil {
		return err
	}
	return renderResult(cmd.OutOrStdout(), result, decodeFormat)
}

func readLimited(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat input")
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, exceeds max-envelope-size %d", path, info.Size(), maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input")
	}
	return data, nil
}

// readObject fetches key, reporting a missing object by name.
func readObject(ctx context.Context, client *storage.Client, key string, maxBytes int64) ([]byte, error) {
	ok, err := client.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("s3://%s/%s: %w", client.Bucket(), key, errObjectNotFound)
	}
	return client.ReadObject(ctx, key, maxBytes)
}

func decodeEnvelope(data []byte, raw bool) (*hifi.Result, error) {
	payload := data
	if !raw {
		var err error
		if payload, err = hifi.Extract(data); err != nil {
			return nil, errors.Wrap(err, "failed to extract inference")
		}
	}
	result, err := hifi.Decode(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode inference")
	}
	return result, nil
}

func renderResult(w io.Writer, r *hifi.Result, format string) error {
	switch format {
	case "table":
		return hifi.WriteTable(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (table, json, yaml)", format)
	}
}
