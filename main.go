package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/flashgrid/dropcoordinator/internal/drop"
	"github.com/flashgrid/dropcoordinator/internal/rpc"
)

// InitModule registers the Drop match handler and the RPC surface that
// fronts it: admission queue, registration, purchase, and proof
// endpoints (spec.md §6 Actor RPC surface).
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	if err := initializer.RegisterMatch(drop.ModuleName, func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return &drop.Match{}, nil
	}); err != nil {
		logger.Error("Unable to register drop match: %v", err)
		return err
	}

	rpcs := map[string]func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error){
		"create_drop":                 rpc.RpcCreateDrop,
		"join_queue":                  rpc.RpcJoinQueue,
		"check_queue_token":           rpc.RpcCheckQueueToken,
		"get_queue_stats":             rpc.RpcGetQueueStats,
		"request_pow_challenge":       rpc.RpcRequestPowChallenge,
		"register_for_drop":           rpc.RpcRegister,
		"start_purchase":              rpc.RpcStartPurchase,
		"complete_purchase":           rpc.RpcCompletePurchase,
		"get_drop_state":              rpc.RpcGetDropState,
		"get_lottery_proof":           rpc.RpcGetLotteryProof,
		"get_inclusion_proof":         rpc.RpcGetInclusionProof,
		"list_drops":                  rpc.RpcListDrops,
		"get_rollover_balance":        rpc.RpcGetRolloverBalance,
		"admin_promote_backup":        rpc.RpcAdminPromoteBackup,
		"admin_close_purchase_window": rpc.RpcAdminClosePurchaseWindow,
		"admin_set_rollover_balance":  rpc.RpcAdminSetRolloverBalance,
	}
	for name, fn := range rpcs {
		if err := initializer.RegisterRpc(name, fn); err != nil {
			logger.Error("Unable to register rpc '%s': %v", name, err)
			return err
		}
	}

	logger.Info("Drop coordinator plugin loaded in '%d' msec.", time.Since(initStart).Milliseconds())
	return nil
}
