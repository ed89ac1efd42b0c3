package main

import (
	"fmt"
	"time"

	"mocha-rewards/chain"
	"mocha-rewards/config"
	"mocha-rewards/services"
	"mocha-rewards/utils"
	"mocha-rewards/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func init() {
	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the root memory for the deployed contract if it is missing",
		RunE:  runBootstrap,
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay mint events in a block range and repair mint counters",
		RunE:  runReconcile,
	}
	reconcileCmd.Flags().Uint64("from-block", 0, "First block to scan")
	reconcileCmd.Flags().Uint64("to-block", 0, "Last block to scan (default: chain head)")
	reconcileCmd.Flags().Bool("from-cursor", false, "Scan from the stored cursor to the chain head")

	expireCmd := &cobra.Command{
		Use:   "expire-token <token-id>",
		Short: "Move a token to the terminal expired state",
		Args:  cobra.ExactArgs(1),
		RunE:  runExpireToken,
	}

	devTokenCmd := &cobra.Command{
		Use:   "dev-token <wallet>",
		Short: "Sign a bearer token for a wallet with JWT_SECRET (local testing)",
		Args:  cobra.ExactArgs(1),
		RunE:  runDevToken,
	}
	devTokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(bootstrapCmd, reconcileCmd, expireCmd, devTokenCmd)
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	client, err := chain.Dial(cmd.Context(), cfg.RPCURL, cfg.ContractAddress)
	if err != nil {
		return err
	}
	defer client.Close()
	qr, err := newQRGenerator(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	mem, created, err := services.NewBootstrapper(db, client, qr, defaultMemory(cfg)).EnsureDefaultMemory(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"memory_id":%q,"created":%t,"max_mints":%d}`+"\n", mem.ID, created, mem.MaxMints)
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	client, err := chain.Dial(cmd.Context(), cfg.RPCURL, cfg.ContractAddress)
	if err != nil {
		return err
	}
	defer client.Close()

	ledger := services.NewLedger(db)
	listener := workers.NewChainListener(client, ledger, services.NewMetadataFetcher(utils.HTTPClient))
	reconciler := workers.NewReconciler(listener, cfg.StartBlock, cfg.BackfillWindow, cfg.ReconcileInterval)

	var report workers.BackfillReport
	if fromCursor, _ := cmd.Flags().GetBool("from-cursor"); fromCursor {
		report, err = reconciler.BackfillFromCursor(cmd.Context())
	} else {
		from, _ := cmd.Flags().GetUint64("from-block")
		to, _ := cmd.Flags().GetUint64("to-block")
		if to == 0 {
			if to, err = client.LatestBlock(cmd.Context()); err != nil {
				return err
			}
		}
		if from > to {
			return fmt.Errorf("--from-block %d is after --to-block %d", from, to)
		}
		report, err = reconciler.BackfillRange(cmd.Context(), from, to)
	}
	if err != nil {
		return err
	}
	fixed, err := reconciler.SyncMintCounts(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		`{"ok":true,"from":%d,"to":%d,"scanned":%d,"recorded":%d,"duplicates":%d,"dropped":%d,"failed":%d,"counters_fixed":%d}`+"\n",
		report.From, report.To, report.Scanned, report.Recorded, report.Duplicates, report.Dropped, report.Failed, fixed)
	return nil
}

func runExpireToken(cmd *cobra.Command, args []string) error {
	tokenID, err := services.ParseTokenID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	um, err := services.NewLedger(db).ExpireToken(cmd.Context(), tokenID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"token_id":%d,"status":%q}`+"\n", um.TokenID, um.Status)
	return nil
}

func runDevToken(cmd *cobra.Command, args []string) error {
	if !common.IsHexAddress(args[0]) {
		return fmt.Errorf("%q is not a wallet address", args[0])
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable not set")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	token, err := services.NewTokenVerifier(cfg.JWTSecret).Issue(args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
