package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/jup-ag/cctp-connect/pkg/adapters/evm"
	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/db"
	"github.com/jup-ag/cctp-connect/pkg/orchestrator"
	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	sendFrom      *string
	sendTo        *string
	sendAmount    *string
	sendRecipient *string

	approveChain  *string
	approveAmount *string

	balanceChain *string
	balanceOwner *string

	listState *string
)

func init() {
	addConfigFlags(TransferCmd.PersistentFlags())

	sendFrom = sendCmd.Flags().String("from", "", "Source chain (ETH, AVAX, ARB, OPTIMISM, BASE, SOLANA)")
	sendTo = sendCmd.Flags().String("to", "", "Destination chain")
	sendAmount = sendCmd.Flags().String("amount", "", "USDC amount, e.g. 1.5")
	sendRecipient = sendCmd.Flags().String("recipient", "", "Owner address on the destination chain (defaults to the configured wallet)")

	approveChain = approveCmd.Flags().String("chain", "", "EVM chain to approve on")
	approveAmount = approveCmd.Flags().String("amount", "", "USDC amount the TokenMessenger may burn")

	balanceChain = balanceCmd.Flags().String("chain", "", "Chain to query")
	balanceOwner = balanceCmd.Flags().String("owner", "", "Owner address (defaults to the configured wallet)")

	listState = listCmd.Flags().String("state", "", "Only list transfers in this state")

	TransferCmd.AddCommand(sendCmd, approveCmd, balanceCmd, redeemCmd, resumeCmd, listCmd, removeCmd)
}

// TransferCmd groups the commands that work on the local transfer database.
var TransferCmd = &cobra.Command{
	Use:               "transfer",
	Short:             "Send, redeem and inspect USDC transfers",
	PersistentPreRunE: initFlags,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Burn USDC on the source chain and follow the transfer",
	RunE:  runSend,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the TokenMessenger to burn the wallet's USDC",
	RunE:  runApprove,
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a USDC balance",
	RunE:  runBalance,
}

var redeemCmd = &cobra.Command{
	Use:   "redeem [TXID]",
	Short: "Redeem a transfer that is ready to redeem",
	Args:  cobra.ExactArgs(1),
	RunE:  runRedeem,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [TXID]",
	Short: "Resume following a stored transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transfers",
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove [TXID]",
	Short: "Delete a transfer from the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

// session runs an orchestrator over the local database for the duration of one command.
type session struct {
	logger *zap.Logger
	env    *environment
	o      *orchestrator.Orchestrator
	events chan orchestrator.StateTransition
}

func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	if cfg.DataDir == "" {
		return errors.New("please specify --dataDir")
	}
	logger := mustLogger()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	common.ListenSysExit(logger, cancel)

	env, err := newEnvironment(ctx, logger, nil)
	if err != nil {
		return err
	}
	database := db.OpenDb(logger, cfg.DataDir)
	defer database.Close()

	s := &session{logger: logger, env: env, events: make(chan orchestrator.StateTransition, 16)}
	s.o = orchestrator.New(logger, database, env.registry, env.adapterList(), env.attestations,
		orchestrator.WithConfig(cfg.orchestratorConfig()),
		orchestrator.WithTransitionHook(func(st orchestrator.StateTransition) {
			select {
			case s.events <- st:
			case <-ctx.Done():
			}
		}))

	runErr := make(chan error, 1)
	go func() { runErr <- s.o.Run(ctx) }()
	select {
	case <-s.o.Started():
	case err := <-runErr:
		return err
	}

	err = fn(ctx, s)
	// Cancelling first releases workers blocked on s.events. Run returns once they have exited.
	cancel()
	<-runErr
	return err
}

// follow prints the transitions of id until it reaches target or fails.
func (s *session) follow(ctx context.Context, id string, target transfer.State) error {
	t, err := s.o.Get(id)
	if err != nil {
		return err
	}
	for {
		switch {
		case t.State == target:
			printTransfer(t)
			return nil
		case t.State == transfer.StateFailed:
			printTransfer(t)
			return fmt.Errorf("transfer failed: %s", t.FailureReason)
		case t.State.IsTerminal():
			printTransfer(t)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case st := <-s.events:
			if st.ID != id {
				continue
			}
			fmt.Printf("%s: %s -> %s\n", id, st.From, st.To)
			t = st.Transfer
		}
	}
}

func targetState() transfer.State {
	if cfg.AutoRedeem {
		return transfer.StateRedeemed
	}
	return transfer.StateReadyToRedeem
}

func runSend(cmd *cobra.Command, args []string) error {
	from, err := chains.ChainFromString(*sendFrom)
	if err != nil {
		return err
	}
	to, err := chains.ChainFromString(*sendTo)
	if err != nil {
		return err
	}
	amount, err := common.ParseAmount(*sendAmount, chains.USDCDecimals)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *session) error {
		recipient := *sendRecipient
		if recipient == "" {
			if recipient, err = s.env.walletAddress(to); err != nil {
				return fmt.Errorf("no --recipient given: %w", err)
			}
		}

		t, err := s.o.Submit(ctx, orchestrator.Request{
			SourceChain:      from,
			DestinationChain: to,
			Amount:           amount,
			Recipient:        recipient,
		})
		if err != nil {
			if t != nil {
				printTransfer(t)
			}
			return err
		}
		fmt.Printf("burn submitted: %s\n", t.ID())
		return s.follow(ctx, t.ID(), targetState())
	})
}

func runApprove(cmd *cobra.Command, args []string) error {
	chain, err := chains.ChainFromString(*approveChain)
	if err != nil {
		return err
	}
	amount, err := common.ParseAmount(*approveAmount, chains.USDCDecimals)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *session) error {
		a, err := s.env.adapter(chain)
		if err != nil {
			return err
		}
		e, ok := a.(*evm.Adapter)
		if !ok {
			return fmt.Errorf("%s does not use allowances", chain)
		}
		txID, err := e.Approve(ctx, amount)
		if err != nil {
			return err
		}
		fmt.Printf("approve submitted: %s\n", txID)
		return nil
	})
}

type balanceReader interface {
	Balance(ctx context.Context, owner string) (*big.Int, error)
}

func runBalance(cmd *cobra.Command, args []string) error {
	chain, err := chains.ChainFromString(*balanceChain)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *session) error {
		a, err := s.env.adapter(chain)
		if err != nil {
			return err
		}
		owner := *balanceOwner
		if owner == "" {
			if owner, err = s.env.walletAddress(chain); err != nil {
				return fmt.Errorf("no --owner given: %w", err)
			}
		}
		b, ok := a.(balanceReader)
		if !ok {
			return fmt.Errorf("balance is not supported on %s", chain)
		}
		balance, err := b.Balance(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Printf("%s USDC\n", common.FormatBigAmount(balance, chains.USDCDecimals))

		if e, ok := a.(*evm.Adapter); ok {
			addr, err := parseEVMAddress(owner)
			if err != nil {
				return err
			}
			allowance, err := e.Allowance(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("allowance: %s USDC\n", common.FormatBigAmount(allowance, chains.USDCDecimals))
		}
		return nil
	})
}

func runRedeem(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withSession(cmd, func(ctx context.Context, s *session) error {
		if _, err := s.o.Redeem(ctx, id); err != nil {
			return err
		}
		fmt.Printf("redeem submitted for %s\n", id)
		return s.follow(ctx, id, transfer.StateRedeemed)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withSession(cmd, func(ctx context.Context, s *session) error {
		return s.follow(ctx, id, targetState())
	})
}

func runList(cmd *cobra.Command, args []string) error {
	if cfg.DataDir == "" {
		return errors.New("please specify --dataDir")
	}
	logger := mustLogger()
	database := db.OpenDb(logger, cfg.DataDir)
	defer database.Close()

	transfers, err := database.GetTransfers(logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tTO\tAMOUNT\tSTATE\tUPDATED")
	for _, t := range transfers {
		if *listState != "" && string(t.State) != *listState {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID(), t.SourceChain, t.DestinationChain,
			common.FormatAmount(t.Amount, chains.USDCDecimals), t.State, t.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runRemove(cmd *cobra.Command, args []string) error {
	if cfg.DataDir == "" {
		return errors.New("please specify --dataDir")
	}
	logger := mustLogger()
	database := db.OpenDb(logger, cfg.DataDir)
	defer database.Close()

	id := args[0]
	if _, err := database.GetTransfer(id); err != nil {
		return err
	}
	if err := database.DeleteTransfer(id); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", id)
	return nil
}

func printTransfer(t *transfer.Transfer) {
	fmt.Printf("transfer %s\n", t.ID())
	fmt.Printf("  %s -> %s  %s USDC to %s\n", t.SourceChain, t.DestinationChain,
		common.FormatAmount(t.Amount, chains.USDCDecimals), t.Recipient)
	fmt.Printf("  state: %s\n", t.State)
	if t.MessageHash != nil {
		fmt.Printf("  message hash: %s\n", t.MessageHash.Hex())
	}
	if t.RedeemTxID != "" {
		fmt.Printf("  redeem tx: %s\n", t.RedeemTxID)
	}
	if t.FailureReason != "" {
		fmt.Printf("  failure: %s\n", t.FailureReason)
	}
}
