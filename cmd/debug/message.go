package debug

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/message"

	"github.com/spf13/cobra"
)

func init() {
	DebugCmd.AddCommand(decodeMessageCmd)
}

var decodeMessageCmd = &cobra.Command{
	Use:   "message [DATA]",
	Short: "Decode a hex-encoded CCTP message",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, arg := range args {
			b, err := hex.DecodeString(strings.TrimPrefix(arg, "0x"))
			if err != nil {
				log.Fatal(err)
			}
			s, err := describeMessage(b)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Print(s)
		}
	},
}

// address renders b in the native format of the chain behind domain, falling back to hex.
func address(domain uint32, b [32]byte) string {
	c, err := chains.ChainFromDomain(domain)
	if err != nil {
		return chains.Bytes32Hex(b)
	}
	return chains.Bytes32ToAddress(c, b)
}

func domainName(domain uint32) string {
	c, err := chains.ChainFromDomain(domain)
	if err != nil {
		return "unknown"
	}
	return c.String()
}

func describeMessage(msg []byte) (string, error) {
	h, err := message.ParseHeader(msg)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Hash:               %s\n", message.Hash(msg).Hex())
	fmt.Fprintf(&sb, "Version:            %d\n", h.Version)
	fmt.Fprintf(&sb, "Source domain:      %d (%s)\n", h.SourceDomain, domainName(h.SourceDomain))
	fmt.Fprintf(&sb, "Destination domain: %d (%s)\n", h.DestinationDomain, domainName(h.DestinationDomain))
	fmt.Fprintf(&sb, "Nonce:              %d\n", h.Nonce)
	fmt.Fprintf(&sb, "Sender:             %s\n", address(h.SourceDomain, h.Sender))
	fmt.Fprintf(&sb, "Recipient:          %s\n", address(h.DestinationDomain, h.Recipient))
	fmt.Fprintf(&sb, "Destination caller: %s\n", chains.Bytes32Hex(h.DestinationCaller))

	burn, err := message.ParseBurnMessage(h.Body)
	if err != nil {
		fmt.Fprintf(&sb, "Body:               %x\n", h.Body)
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Burn message:\n")
	fmt.Fprintf(&sb, "  Version:          %d\n", burn.Version)
	fmt.Fprintf(&sb, "  Burn token:       %s\n", address(h.SourceDomain, burn.BurnToken))
	fmt.Fprintf(&sb, "  Mint recipient:   %s\n", address(h.DestinationDomain, burn.MintRecipient))
	amount := burn.Amount.ToBig().String()
	if burn.Amount.IsUint64() {
		amount = common.FormatAmount(burn.Amount.Uint64(), chains.USDCDecimals) + " USDC"
	}
	fmt.Fprintf(&sb, "  Amount:           %s\n", amount)
	fmt.Fprintf(&sb, "  Message sender:   %s\n", address(h.SourceDomain, burn.MessageSender))
	return sb.String(), nil
}
