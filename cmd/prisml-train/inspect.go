package main

import (
	"fmt"
	"strings"

	"prisml-train/internal/onnx"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx>",
	Short: "Print the inputs, outputs and operators of an exported model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := onnx.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Print(describe(m))
		return nil
	},
}

func describe(m *onnx.Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Graph: %s\n", m.Graph.Name)
	fmt.Fprintf(&b, "IR Version: %d\n", m.IRVersion)
	fmt.Fprintf(&b, "Producer: %s %s\n", m.ProducerName, m.ProducerVersion)
	for _, o := range m.Opsets {
		domain := o.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		fmt.Fprintf(&b, "Opset: %s v%d\n", domain, o.Version)
	}
	for _, in := range m.Graph.Inputs {
		fmt.Fprintf(&b, "Input: %s %s %s\n", in.Name, in.ElemTypeName(), in.Shape())
	}
	for _, out := range m.Graph.Outputs {
		fmt.Fprintf(&b, "Output: %s %s %s\n", out.Name, out.ElemTypeName(), out.Shape())
	}
	for _, n := range m.Graph.Nodes {
		fmt.Fprintf(&b, "Node: %s (%s) %s -> %s\n",
			n.OpType, n.Domain, strings.Join(n.Inputs, ","), strings.Join(n.Outputs, ","))
	}
	for _, kv := range m.Metadata {
		fmt.Fprintf(&b, "Metadata: %s = %s\n", kv.Key, kv.Value)
	}
	return b.String()
}
