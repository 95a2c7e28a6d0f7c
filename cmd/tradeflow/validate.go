package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soochol/tradeflow/internal/dag"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph-file>...",
	Short: "Check workflow graph files for structural errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			g, err := loadGraph(path)
			if err == nil {
				err = dag.Validate(g)
			}
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
				continue
			}
			d, _ := dag.Build(g)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, order %s)\n", path, len(g.Nodes), strings.Join(d.TopologicalOrder(), " -> "))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d graphs invalid", failed, len(args))
		}
		return nil
	},
}

// loadGraph reads a graph from JSON, or YAML when the extension says so.
func loadGraph(path string) (*tradeflow.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var g tradeflow.Graph
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &g)
	default:
		err = json.Unmarshal(data, &g)
	}
	if err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return &g, nil
}
