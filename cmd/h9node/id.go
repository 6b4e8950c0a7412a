package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notnil/h9can/h9"
)

func idCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Encode or decode 29-bit H9 identifiers",
	}
	cmd.AddCommand(idEncodeCmd(), idDecodeCmd())
	return cmd
}

func parseType(s string) (h9.Type, error) {
	if t, ok := h9.ParseType(s); ok {
		return t, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v > 31 {
		return 0, fmt.Errorf("invalid message type %q", s)
	}
	return h9.Type(v), nil
}

func idEncodeCmd() *cobra.Command {
	var (
		priority uint8
		typ      string
		seq      uint8
		dst, src string
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build an identifier from its fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(typ)
			if err != nil {
				return err
			}
			d, err := parseAddress(dst)
			if err != nil {
				return err
			}
			s, err := parseAddress(src)
			if err != nil {
				return err
			}
			if priority > 1 || seq > 31 {
				return errors.New("priority must be 0..1 and seq 0..31")
			}
			id := h9.EncodeID(h9.Priority(priority), t, seq, d, s)
			idt := h9.PackID(id)
			fmt.Fprintf(cmd.OutOrStdout(), "%08X\nIDT % X\n", id, idt[:])
			return nil
		},
	}
	cmd.Flags().Uint8VarP(&priority, "priority", "p", 1, "Priority bit (0 high, 1 low)")
	cmd.Flags().StringVarP(&typ, "type", "T", "NOP", "Message type name or number")
	cmd.Flags().Uint8Var(&seq, "seq", 0, "Sequence number")
	cmd.Flags().StringVarP(&dst, "dst", "d", "0x1FF", "Destination address")
	cmd.Flags().StringVarP(&src, "src", "s", "0", "Source address")
	return cmd
}

func idDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode ID",
		Short: "Split a hex identifier into its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimPrefix(strings.ToLower(args[0]), "0x")
			v, err := strconv.ParseUint(raw, 16, 32)
			if err != nil || v > h9.IDMask {
				return fmt.Errorf("invalid 29-bit identifier %q", args[0])
			}
			p, t, seq, d, s := h9.DecodeID(uint32(v))
			fmt.Fprintf(cmd.OutOrStdout(), "priority=%d type=%s(%d) seq=%d dst=%d src=%d\n", p, t, uint8(t), seq, d, s)
			return nil
		},
	}
}
