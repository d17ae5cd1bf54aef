package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ember-ml/ember/checkpoint"
	"github.com/ember-ml/ember/nn"
)

func newDescribeCommand() *cobra.Command {
	var (
		file string
		method nn.InitMethod
	)
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print a network architecture and its checkpoint size",
	}
	cmd.PersistentFlags().StringVar(&file, "checkpoint", "", "verify that this checkpoint file loads into the network")
	method = nn.Xavier
	cmd.PersistentFlags().Var(newEnumValue(&method, initNames), "init", "weight initializer: xavier or he")

	describe := func(cmd *cobra.Command, net *nn.Network) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, net)
		fmt.Fprintf(out, "checkpoint size: %s\n", humanize.Bytes(uint64(checkpoint.Size(net))))
		if file == "" {
			return nil
		}
		if err := checkpoint.LoadFile(file, net); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
		fmt.Fprintf(out, "%s loaded\n", file)
		return nil
	}

	var hidden int
	chess := &cobra.Command{
		Use:   "chess",
		Short: "Describe the chess evaluation network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return describe(cmd, chessNetwork(hidden, nn.NetworkConfig{Init: method}))
		},
	}
	chess.Flags().IntVar(&hidden, "hidden", 4096, "hidden layer width")

	var width, height, kernels, classes int
	images := &cobra.Command{
		Use:   "images",
		Short: "Describe the image classification network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if width < 3 || height < 3 {
				return fmt.Errorf("images of %dx%d are smaller than the 3x3 kernel", width, height)
			}
			if classes < 1 {
				return fmt.Errorf("need at least one class, got %d", classes)
			}
			return describe(cmd, imageNetwork(height, width, kernels, classes, nn.NetworkConfig{Init: method}))
		},
	}
	images.Flags().IntVar(&width, "width", 28, "input width")
	images.Flags().IntVar(&height, "height", 28, "input height")
	images.Flags().IntVar(&kernels, "kernels", 16, "convolution kernels")
	images.Flags().IntVar(&classes, "classes", 10, "output classes")

	cmd.AddCommand(chess, images)
	return cmd
}
